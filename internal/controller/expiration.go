/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
	"github.com/devserver-io/devserver-operator/internal/duration"
)

// ExpirationSweeper deletes DevServers whose time-to-live has elapsed.
// It polls the whole cluster on a fixed interval rather than arming a
// timer per object; that trades scalability for simplicity and is fine
// below roughly a hundred concurrent DevServers.
type ExpirationSweeper struct {
	client.Client
	Interval time.Duration

	// Now is the clock, replaceable in tests. Defaults to time.Now.
	Now func() time.Time
}

// Start runs the sweep loop until the manager shuts down. A failed
// iteration is logged and the loop continues on the next tick.
func (s *ExpirationSweeper) Start(ctx context.Context) error {
	log := logf.Log.WithName("expiration-sweeper")
	log.Info("starting DevServer expiration sweeps", "interval", s.Interval.String())

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping DevServer expiration sweeps")
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				log.Error(err, "expiration sweep failed")
			}
		}
	}
}

// sweep lists every DevServer cluster-wide and deletes the expired
// ones. Per-object parse failures are logged and skipped so one bad
// spec never aborts the whole sweep.
func (s *ExpirationSweeper) sweep(ctx context.Context) error {
	log := logf.Log.WithName("expiration-sweeper")

	var devServers devserverv1.DevServerList
	if err := s.List(ctx, &devServers); err != nil {
		return err
	}

	now := s.now()
	expired := 0
	for i := range devServers.Items {
		devServer := &devServers.Items[i]
		if !devServer.DeletionTimestamp.IsZero() {
			continue
		}

		ttl, err := duration.Parse(devServer.Spec.Lifecycle.TimeToLive)
		if err != nil {
			log.Error(err, "skipping DevServer with unparseable timeToLive",
				"devserver", devServer.Name, "namespace", devServer.Namespace)
			continue
		}

		expiry := devServer.CreationTimestamp.Add(ttl)
		if now.Before(expiry) {
			continue
		}

		log.Info("DevServer has expired, deleting",
			"devserver", devServer.Name, "namespace", devServer.Namespace,
			"ttl", devServer.Spec.Lifecycle.TimeToLive)
		if err := s.Delete(ctx, devServer); err != nil {
			if apierrors.IsNotFound(err) {
				log.Info("DevServer already deleted", "devserver", devServer.Name)
				continue
			}
			log.Error(err, "failed to delete expired DevServer",
				"devserver", devServer.Name, "namespace", devServer.Namespace)
			continue
		}
		expired++
	}

	if expired > 0 {
		log.Info("expired DevServers deleted", "count", expired)
	}
	return nil
}

func (s *ExpirationSweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
