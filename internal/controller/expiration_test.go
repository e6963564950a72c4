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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
)

var _ = Describe("ExpirationSweeper", func() {
	const namespace = "default"

	var (
		ctx       context.Context
		now       time.Time
		k8sClient client.Client
		sweeper   *ExpirationSweeper
	)

	newDevServerAt := func(name, ttl string, created time.Time) *devserverv1.DevServer {
		return &devserverv1.DevServer{
			ObjectMeta: metav1.ObjectMeta{
				Name:              name,
				Namespace:         namespace,
				CreationTimestamp: metav1.NewTime(created),
			},
			Spec: devserverv1.DevServerSpec{
				Flavor:    "small",
				SSH:       devserverv1.SSHConfig{PublicKey: "ssh-ed25519 AAAA"},
				Lifecycle: devserverv1.LifecycleConfig{TimeToLive: ttl},
			},
		}
	}

	exists := func(name string) bool {
		err := k8sClient.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, &devserverv1.DevServer{})
		if apierrors.IsNotFound(err) {
			return false
		}
		Expect(err).NotTo(HaveOccurred())
		return true
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})

	setup := func(objs ...client.Object) {
		k8sClient = newFakeClientBuilder(newTestScheme()).WithObjects(objs...).Build()
		sweeper = &ExpirationSweeper{
			Client:   k8sClient,
			Interval: time.Minute,
			Now:      func() time.Time { return now },
		}
	}

	It("deletes DevServers past their time-to-live", func() {
		setup(
			newDevServerAt("expired", "1h", now.Add(-2*time.Hour)),
			newDevServerAt("fresh", "4h", now.Add(-2*time.Hour)),
		)

		Expect(sweeper.sweep(ctx)).To(Succeed())
		Expect(exists("expired")).To(BeFalse())
		Expect(exists("fresh")).To(BeTrue())
	})

	It("deletes exactly at the expiry instant", func() {
		setup(newDevServerAt("boundary", "1h", now.Add(-time.Hour)))

		Expect(sweeper.sweep(ctx)).To(Succeed())
		Expect(exists("boundary")).To(BeFalse())
	})

	It("keeps a DevServer one second before expiry", func() {
		setup(newDevServerAt("almost", "1h", now.Add(-time.Hour+time.Second)))

		Expect(sweeper.sweep(ctx)).To(Succeed())
		Expect(exists("almost")).To(BeTrue())
	})

	It("skips DevServers with an unparseable time-to-live", func() {
		setup(
			newDevServerAt("broken", "whenever", now.Add(-48*time.Hour)),
			newDevServerAt("expired", "1h", now.Add(-2*time.Hour)),
		)

		Expect(sweeper.sweep(ctx)).To(Succeed())
		Expect(exists("broken")).To(BeTrue())
		Expect(exists("expired")).To(BeFalse())
	})

	It("handles an empty cluster", func() {
		setup()
		Expect(sweeper.sweep(ctx)).To(Succeed())
	})
})
