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
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
	"github.com/devserver-io/devserver-operator/internal/config"
	"github.com/devserver-io/devserver-operator/internal/duration"
	"github.com/devserver-io/devserver-operator/internal/reconcile"
	"github.com/devserver-io/devserver-operator/internal/resources"
	"github.com/devserver-io/devserver-operator/internal/sshkeys"
)

// DevServerReconciler reconciles a DevServer object
type DevServerReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Config config.Config
}

// +kubebuilder:rbac:groups=devserver.io,resources=devservers,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=devserver.io,resources=devservers/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=devserver.io,resources=devserverflavors,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=services;configmaps;secrets,verbs=get;list;watch;create
// +kubebuilder:rbac:groups=apps,resources=statefulsets,verbs=get;list;watch;create

// Reconcile drives a DevServer declaration to its concrete cluster
// objects. Validation and reference failures are permanent: they set
// status=Failed and are not retried. Everything else propagates so the
// workqueue retries with backoff.
func (r *DevServerReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	devServer := &devserverv1.DevServer{}
	if err := r.Get(ctx, req.NamespacedName, devServer); err != nil {
		if apierrors.IsNotFound(err) {
			// Already deleted; owner references garbage collect the children.
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !devServer.ObjectMeta.DeletionTimestamp.IsZero() {
		// The StatefulSet, Services, ConfigMaps and host-key Secret are
		// owned by the DevServer and will be garbage collected. The home
		// PVC is intentionally not owned and is never deleted here.
		log.Info("DevServer is being deleted; children will be garbage collected",
			"devserver", devServer.Name)
		return ctrl.Result{}, nil
	}

	// Status is only ever modified through this patch base, taken before
	// the reconcile path mutates the in-memory object.
	base := devServer.DeepCopy()

	if err := r.reconcileDevServer(ctx, devServer); err != nil {
		if reconcile.IsPermanent(err) {
			log.Info("Permanent reconcile failure", "devserver", devServer.Name, "reason", err.Error())
			devServer.Status.Phase = devserverv1.PhaseFailed
			devServer.Status.Message = err.Error()
			if patchErr := r.Status().Patch(ctx, devServer, client.MergeFrom(base)); patchErr != nil {
				return ctrl.Result{}, patchErr
			}
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	devServer.Status.Phase = devserverv1.PhaseRunning
	devServer.Status.Message = fmt.Sprintf("StatefulSet '%s' created successfully.", devServer.Name)
	if err := r.Status().Patch(ctx, devServer, client.MergeFrom(base)); err != nil {
		return ctrl.Result{}, err
	}

	log.Info("DevServer reconciled", "devserver", devServer.Name)
	return ctrl.Result{}, nil
}

// reconcileDevServer performs the create/update path: validate the TTL,
// resolve the flavor, ensure host keys and apply the synthesized
// children with create-if-absent semantics.
func (r *DevServerReconciler) reconcileDevServer(ctx context.Context, devServer *devserverv1.DevServer) error {
	if err := r.validateTTL(devServer.Spec.Lifecycle.TimeToLive); err != nil {
		return err
	}

	flavor := &devserverv1.DevServerFlavor{}
	if err := r.Get(ctx, types.NamespacedName{Name: devServer.Spec.Flavor}, flavor); err != nil {
		if apierrors.IsNotFound(err) {
			return reconcile.Permanentf("flavor '%s' not found", devServer.Spec.Flavor)
		}
		return err
	}

	if err := r.ensureHostKeySecret(ctx, devServer); err != nil {
		return err
	}

	children := []client.Object{
		resources.BuildSSHDConfigMap(devServer),
		resources.BuildStartupConfigMap(devServer),
		resources.BuildLoginConfigMap(devServer),
		resources.BuildHeadlessService(devServer),
	}
	if devServer.Spec.EnableSSH {
		children = append(children, resources.BuildSSHService(devServer))
	}
	children = append(children, resources.BuildStatefulSet(devServer, flavor, r.Config.DefaultImage))

	for _, child := range children {
		if err := r.createIfAbsent(ctx, devServer, child); err != nil {
			return err
		}
	}

	if devServer.Spec.EnableSSH {
		devServer.Status.ServiceName = resources.SSHServiceName(devServer.Name)
		devServer.Status.SSHEndpoint = resources.SSHEndpoint(devServer.Name, devServer.Namespace)
	}

	return nil
}

// validateTTL rejects a missing, malformed, non-positive or over-limit
// time-to-live. All failures are permanent: retrying cannot fix a spec.
func (r *DevServerReconciler) validateTTL(ttl string) error {
	if ttl == "" {
		return reconcile.Permanentf("spec.lifecycle.timeToLive is required")
	}
	d, err := duration.Parse(ttl)
	if err != nil {
		return reconcile.Permanentf("invalid timeToLive: %v", err)
	}
	if d <= 0 {
		return reconcile.Permanentf("invalid timeToLive: duration must be positive")
	}
	if d > r.Config.MaxTTL {
		return reconcile.Permanentf("timeToLive '%s' exceeds maximum allowed duration of %s", ttl, r.Config.MaxTTL)
	}
	return nil
}

// ensureHostKeySecret creates the host-key Secret on first reconcile.
// Key generation is skipped when the Secret already exists, so host
// identity is stable for the DevServer's whole life.
func (r *DevServerReconciler) ensureHostKeySecret(ctx context.Context, devServer *devserverv1.DevServer) error {
	log := logf.FromContext(ctx)
	secretName := resources.HostKeySecretName(devServer.Name)

	existing := &corev1.Secret{}
	err := r.Get(ctx, types.NamespacedName{Name: secretName, Namespace: devServer.Namespace}, existing)
	if err == nil {
		log.Info("Host key Secret already exists", "secret", secretName)
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}

	log.Info("Generating host keys", "secret", secretName)
	keyData, err := sshkeys.GenerateHostKeys()
	if err != nil {
		return err
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      secretName,
			Namespace: devServer.Namespace,
		},
		Type: corev1.SecretTypeOpaque,
		Data: keyData,
	}
	return r.createIfAbsent(ctx, devServer, secret)
}

// createIfAbsent sets the owner reference and creates the object,
// treating "already exists" as success. Existing objects are never
// diffed or updated: a spec change after first creation has no effect
// until the DevServer is recreated.
func (r *DevServerReconciler) createIfAbsent(ctx context.Context, devServer *devserverv1.DevServer, obj client.Object) error {
	log := logf.FromContext(ctx)

	if err := controllerutil.SetControllerReference(devServer, obj, r.Scheme); err != nil {
		return err
	}
	if err := r.Create(ctx, obj); err != nil {
		if apierrors.IsAlreadyExists(err) {
			log.Info("Object already exists, skipping",
				"kind", fmt.Sprintf("%T", obj), "name", obj.GetName())
			return nil
		}
		return err
	}
	log.Info("Object created", "kind", fmt.Sprintf("%T", obj), "name", obj.GetName())
	return nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *DevServerReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&devserverv1.DevServer{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.ConfigMap{}).
		Owns(&corev1.Secret{}).
		WithOptions(controller.Options{
			// Low on purpose: a controller restart redelivers every
			// DevServer at once and the API server has to absorb it.
			MaxConcurrentReconciles: r.Config.MaxConcurrentReconciles,
		}).
		Named("devserver").
		Complete(r)
}
