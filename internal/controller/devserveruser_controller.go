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

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
	"github.com/devserver-io/devserver-operator/internal/config"
)

const (
	userFinalizer = "devserver.io/user-cleanup"

	// userRoleName names both the Role and the RoleBinding created in
	// each user namespace.
	userRoleName = "devserver-user"

	userLabel    = "devserver.io/user"
	managedLabel = "devserver.io/managed"
)

// DevServerUserReconciler materializes a namespace, service account and
// RBAC grant for each DevServerUser. The namespace persists even after
// the user is deleted or suspended: only the access objects come and go.
type DevServerUserReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Config config.Config
}

// +kubebuilder:rbac:groups=devserver.io,resources=devserverusers,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=devserver.io,resources=devserverusers/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=namespaces;serviceaccounts,verbs=get;list;watch;create;delete
// +kubebuilder:rbac:groups=rbac.authorization.k8s.io,resources=roles;rolebindings,verbs=get;list;watch;create;update;patch;delete

func (r *DevServerUserReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	user := &devserverv1.DevServerUser{}
	if err := r.Get(ctx, req.NamespacedName, user); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	namespace := r.namespaceFor(user)

	if !user.ObjectMeta.DeletionTimestamp.IsZero() {
		if controllerutil.ContainsFinalizer(user, userFinalizer) {
			if err := r.cleanupAccess(ctx, user, namespace); err != nil {
				return ctrl.Result{}, err
			}
			controllerutil.RemoveFinalizer(user, userFinalizer)
			if err := r.Update(ctx, user); err != nil {
				return ctrl.Result{}, err
			}
			log.Info("DevServerUser cleaned up; namespace retained",
				"user", user.Spec.Username, "namespace", namespace)
		}
		return ctrl.Result{}, nil
	}

	if !controllerutil.ContainsFinalizer(user, userFinalizer) {
		controllerutil.AddFinalizer(user, userFinalizer)
		if err := r.Update(ctx, user); err != nil {
			return ctrl.Result{}, err
		}
	}

	base := user.DeepCopy()

	if err := r.ensureNamespace(ctx, user, namespace); err != nil {
		return ctrl.Result{}, err
	}
	if err := r.ensureServiceAccount(ctx, user, namespace); err != nil {
		return ctrl.Result{}, err
	}

	if user.Spec.Suspended {
		// A suspended user keeps the namespace and service account but
		// loses the RBAC grant, so existing workloads survive while the
		// user cannot touch them.
		if err := r.removeRBAC(ctx, namespace); err != nil {
			return ctrl.Result{}, err
		}
		user.Status.Namespace = namespace
		user.Status.Phase = devserverv1.PhaseReady
		user.Status.Message = fmt.Sprintf("User '%s' is suspended; access revoked.", user.Spec.Username)
		if err := r.Status().Patch(ctx, user, client.MergeFrom(base)); err != nil {
			return ctrl.Result{}, err
		}
		log.Info("DevServerUser suspended", "user", user.Spec.Username, "namespace", namespace)
		return ctrl.Result{}, nil
	}

	if err := r.ensureRBAC(ctx, user, namespace); err != nil {
		return ctrl.Result{}, err
	}

	user.Status.Namespace = namespace
	user.Status.Phase = devserverv1.PhaseReady
	user.Status.Message = fmt.Sprintf("Namespace '%s' is ready.", namespace)
	if err := r.Status().Patch(ctx, user, client.MergeFrom(base)); err != nil {
		return ctrl.Result{}, err
	}

	log.Info("DevServerUser reconciled", "user", user.Spec.Username, "namespace", namespace)
	return ctrl.Result{}, nil
}

func (r *DevServerUserReconciler) namespaceFor(user *devserverv1.DevServerUser) string {
	return fmt.Sprintf("%s-%s", r.Config.UserNamespacePrefix, user.Spec.Username)
}

func serviceAccountName(user *devserverv1.DevServerUser) string {
	return user.Spec.Username + "-sa"
}

// ensureNamespace creates the user namespace if absent. Namespaces are
// never owner-referenced: they outlive the DevServerUser on purpose.
func (r *DevServerUserReconciler) ensureNamespace(ctx context.Context, user *devserverv1.DevServerUser, namespace string) error {
	log := logf.FromContext(ctx)

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: namespace,
			Labels: map[string]string{
				userLabel:    user.Spec.Username,
				managedLabel: "true",
			},
		},
	}
	if err := r.Create(ctx, ns); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return err
	}
	log.Info("namespace created", "namespace", namespace)
	return nil
}

func (r *DevServerUserReconciler) ensureServiceAccount(ctx context.Context, user *devserverv1.DevServerUser, namespace string) error {
	log := logf.FromContext(ctx)

	sa := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{
			Name:      serviceAccountName(user),
			Namespace: namespace,
			Labels:    map[string]string{userLabel: user.Spec.Username},
		},
	}
	if err := r.Create(ctx, sa); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return err
	}
	log.Info("service account created", "serviceaccount", sa.Name, "namespace", namespace)
	return nil
}

// ensureRBAC creates or updates the Role and RoleBinding. Unlike the
// DevServer children these are reconciled in place: rule changes in a
// new operator version must propagate to existing namespaces.
func (r *DevServerUserReconciler) ensureRBAC(ctx context.Context, user *devserverv1.DevServerUser, namespace string) error {
	role := &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{Name: userRoleName, Namespace: namespace},
	}
	if _, err := controllerutil.CreateOrUpdate(ctx, r.Client, role, func() error {
		role.Rules = userRoleRules()
		return nil
	}); err != nil {
		return err
	}

	binding := &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{Name: userRoleName, Namespace: namespace},
	}
	if _, err := controllerutil.CreateOrUpdate(ctx, r.Client, binding, func() error {
		binding.RoleRef = rbacv1.RoleRef{
			APIGroup: rbacv1.GroupName,
			Kind:     "Role",
			Name:     userRoleName,
		}
		binding.Subjects = []rbacv1.Subject{
			{
				APIGroup: rbacv1.GroupName,
				Kind:     rbacv1.UserKind,
				Name:     user.Spec.Username,
			},
			{
				Kind:      rbacv1.ServiceAccountKind,
				Name:      serviceAccountName(user),
				Namespace: namespace,
			},
		}
		return nil
	}); err != nil {
		return err
	}

	return nil
}

func userRoleRules() []rbacv1.PolicyRule {
	return []rbacv1.PolicyRule{
		{
			APIGroups: []string{devserverv1.GroupVersion.Group},
			Resources: []string{"devservers"},
			Verbs:     []string{"get", "list", "watch", "create", "update", "patch", "delete"},
		},
		{
			APIGroups: []string{devserverv1.GroupVersion.Group},
			Resources: []string{"devservers/status"},
			Verbs:     []string{"get"},
		},
		{
			APIGroups: []string{""},
			Resources: []string{"pods", "services", "configmaps", "persistentvolumeclaims"},
			Verbs:     []string{"get", "list", "watch"},
		},
		{
			APIGroups: []string{""},
			Resources: []string{"pods/log"},
			Verbs:     []string{"get"},
		},
		{
			APIGroups: []string{""},
			Resources: []string{"pods/exec", "pods/portforward"},
			Verbs:     []string{"create"},
		},
	}
}

// removeRBAC deletes the Role and RoleBinding, treating absence as done.
func (r *DevServerUserReconciler) removeRBAC(ctx context.Context, namespace string) error {
	binding := &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{Name: userRoleName, Namespace: namespace},
	}
	if err := r.Delete(ctx, binding); err != nil && !apierrors.IsNotFound(err) {
		return err
	}

	role := &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{Name: userRoleName, Namespace: namespace},
	}
	if err := r.Delete(ctx, role); err != nil && !apierrors.IsNotFound(err) {
		return err
	}

	return nil
}

// cleanupAccess removes the RBAC grant and the service account. The
// namespace and everything the user created inside it are retained.
func (r *DevServerUserReconciler) cleanupAccess(ctx context.Context, user *devserverv1.DevServerUser, namespace string) error {
	// A namespace that was never created means there is nothing to do.
	ns := &corev1.Namespace{}
	if err := r.Get(ctx, types.NamespacedName{Name: namespace}, ns); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if err := r.removeRBAC(ctx, namespace); err != nil {
		return err
	}

	sa := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{Name: serviceAccountName(user), Namespace: namespace},
	}
	if err := r.Delete(ctx, sa); err != nil && !apierrors.IsNotFound(err) {
		return err
	}

	return nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *DevServerUserReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&devserverv1.DevServerUser{}).
		Named("devserveruser").
		Complete(r)
}
