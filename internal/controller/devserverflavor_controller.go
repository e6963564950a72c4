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
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
	"github.com/devserver-io/devserver-operator/internal/scheduling"
)

// DevServerFlavorReconciler keeps status.schedulable current on every
// DevServerFlavor. Flavor events drive single-object updates; the
// FlavorResync runnable covers cluster drift (nodes joining, pods
// consuming capacity) that produces no flavor events at all.
type DevServerFlavorReconciler struct {
	client.Client
	Scheme *runtime.Scheme
}

// +kubebuilder:rbac:groups=devserver.io,resources=devserverflavors,verbs=get;list;watch
// +kubebuilder:rbac:groups=devserver.io,resources=devserverflavors/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=nodes;pods,verbs=get;list;watch
// +kubebuilder:rbac:groups=karpenter.sh,resources=nodepools,verbs=get;list;watch

func (r *DevServerFlavorReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	flavor := &devserverv1.DevServerFlavor{}
	if err := r.Get(ctx, req.NamespacedName, flavor); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	state, err := scheduling.Snapshot(ctx, r.Client, log)
	if err != nil {
		return ctrl.Result{}, err
	}

	if err := updateSchedulability(ctx, r.Client, flavor, state); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

// updateSchedulability computes the classification and patches status
// only when it changed, keeping resyncs cheap on quiet clusters.
func updateSchedulability(ctx context.Context, c client.Client, flavor *devserverv1.DevServerFlavor, state *scheduling.ClusterState) error {
	log := logf.FromContext(ctx)

	schedulable := state.Schedulability(flavor)
	if flavor.Status.Schedulable == schedulable {
		return nil
	}

	base := flavor.DeepCopy()
	flavor.Status.Schedulable = schedulable
	if err := c.Status().Patch(ctx, flavor, client.MergeFrom(base)); err != nil {
		return err
	}
	log.Info("flavor schedulability updated", "flavor", flavor.Name, "schedulable", schedulable)
	return nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *DevServerFlavorReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&devserverv1.DevServerFlavor{}).
		Named("devserverflavor").
		Complete(r)
}

// FlavorResync periodically re-evaluates every flavor against a fresh
// cluster snapshot. One snapshot is shared across all flavors per pass.
type FlavorResync struct {
	client.Client
	Interval time.Duration
}

func (f *FlavorResync) Start(ctx context.Context) error {
	log := logf.Log.WithName("flavor-resync")
	log.Info("starting flavor schedulability resyncs", "interval", f.Interval.String())

	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping flavor schedulability resyncs")
			return nil
		case <-ticker.C:
			if err := f.resync(ctx); err != nil {
				log.Error(err, "flavor resync failed")
			}
		}
	}
}

func (f *FlavorResync) resync(ctx context.Context) error {
	log := logf.Log.WithName("flavor-resync")

	var flavors devserverv1.DevServerFlavorList
	if err := f.List(ctx, &flavors); err != nil {
		return err
	}
	if len(flavors.Items) == 0 {
		return nil
	}

	state, err := scheduling.Snapshot(ctx, f.Client, log)
	if err != nil {
		return err
	}

	for i := range flavors.Items {
		flavor := &flavors.Items[i]
		if err := updateSchedulability(ctx, f.Client, flavor, state); err != nil {
			log.Error(err, "failed to update flavor schedulability", "flavor", flavor.Name)
		}
	}
	return nil
}
