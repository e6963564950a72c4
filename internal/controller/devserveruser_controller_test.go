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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
	"github.com/devserver-io/devserver-operator/internal/config"
)

var _ = Describe("DevServerUser Controller", func() {
	var (
		ctx        context.Context
		k8sClient  client.Client
		reconciler *DevServerUserReconciler
	)

	reconcile := func(name string) (ctrl.Result, error) {
		return reconciler.Reconcile(ctx, ctrl.Request{
			NamespacedName: types.NamespacedName{Name: name},
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		scheme := newTestScheme()

		user := &devserverv1.DevServerUser{
			ObjectMeta: metav1.ObjectMeta{Name: "alice"},
			Spec:       devserverv1.DevServerUserSpec{Username: "alice"},
		}

		k8sClient = newFakeClientBuilder(scheme).WithObjects(user).Build()
		reconciler = &DevServerUserReconciler{
			Client: k8sClient,
			Scheme: scheme,
			Config: config.Load(),
		}
	})

	It("creates the user namespace with ownership labels", func() {
		_, err := reconcile("alice")
		Expect(err).NotTo(HaveOccurred())

		ns := &corev1.Namespace{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-alice"}, ns)).To(Succeed())
		Expect(ns.Labels).To(HaveKeyWithValue("devserver.io/user", "alice"))
		Expect(ns.Labels).To(HaveKeyWithValue("devserver.io/managed", "true"))
	})

	It("creates the service account and RBAC grant", func() {
		_, err := reconcile("alice")
		Expect(err).NotTo(HaveOccurred())

		sa := &corev1.ServiceAccount{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "alice-sa", Namespace: "dev-alice"}, sa)).To(Succeed())

		role := &rbacv1.Role{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "devserver-user", Namespace: "dev-alice"}, role)).To(Succeed())
		Expect(role.Rules).NotTo(BeEmpty())

		binding := &rbacv1.RoleBinding{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "devserver-user", Namespace: "dev-alice"}, binding)).To(Succeed())
		Expect(binding.RoleRef.Name).To(Equal("devserver-user"))
		Expect(binding.Subjects).To(HaveLen(2))
		Expect(binding.Subjects[0].Kind).To(Equal(rbacv1.UserKind))
		Expect(binding.Subjects[0].Name).To(Equal("alice"))
		Expect(binding.Subjects[1].Kind).To(Equal(rbacv1.ServiceAccountKind))
		Expect(binding.Subjects[1].Name).To(Equal("alice-sa"))
	})

	It("reports the namespace in status", func() {
		_, err := reconcile("alice")
		Expect(err).NotTo(HaveOccurred())

		user := &devserverv1.DevServerUser{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "alice"}, user)).To(Succeed())
		Expect(user.Status.Namespace).To(Equal("dev-alice"))
		Expect(user.Status.Phase).To(Equal(devserverv1.PhaseReady))
	})

	It("is idempotent on repeated reconciles", func() {
		_, err := reconcile("alice")
		Expect(err).NotTo(HaveOccurred())
		_, err = reconcile("alice")
		Expect(err).NotTo(HaveOccurred())

		ns := &corev1.Namespace{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-alice"}, ns)).To(Succeed())
	})

	Context("when the user is suspended", func() {
		It("revokes RBAC but keeps the namespace and service account", func() {
			_, err := reconcile("alice")
			Expect(err).NotTo(HaveOccurred())

			user := &devserverv1.DevServerUser{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "alice"}, user)).To(Succeed())
			user.Spec.Suspended = true
			Expect(k8sClient.Update(ctx, user)).To(Succeed())

			_, err = reconcile("alice")
			Expect(err).NotTo(HaveOccurred())

			role := &rbacv1.Role{}
			err = k8sClient.Get(ctx, types.NamespacedName{Name: "devserver-user", Namespace: "dev-alice"}, role)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			binding := &rbacv1.RoleBinding{}
			err = k8sClient.Get(ctx, types.NamespacedName{Name: "devserver-user", Namespace: "dev-alice"}, binding)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			ns := &corev1.Namespace{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-alice"}, ns)).To(Succeed())
			sa := &corev1.ServiceAccount{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "alice-sa", Namespace: "dev-alice"}, sa)).To(Succeed())
		})

		It("restores RBAC when the user is unsuspended", func() {
			_, err := reconcile("alice")
			Expect(err).NotTo(HaveOccurred())

			user := &devserverv1.DevServerUser{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "alice"}, user)).To(Succeed())
			user.Spec.Suspended = true
			Expect(k8sClient.Update(ctx, user)).To(Succeed())
			_, err = reconcile("alice")
			Expect(err).NotTo(HaveOccurred())

			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "alice"}, user)).To(Succeed())
			user.Spec.Suspended = false
			Expect(k8sClient.Update(ctx, user)).To(Succeed())
			_, err = reconcile("alice")
			Expect(err).NotTo(HaveOccurred())

			role := &rbacv1.Role{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "devserver-user", Namespace: "dev-alice"}, role)).To(Succeed())
		})
	})

	Context("when the user is deleted", func() {
		It("removes access objects but retains the namespace", func() {
			_, err := reconcile("alice")
			Expect(err).NotTo(HaveOccurred())

			user := &devserverv1.DevServerUser{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "alice"}, user)).To(Succeed())
			Expect(k8sClient.Delete(ctx, user)).To(Succeed())

			// The finalizer keeps the object around until cleanup runs.
			_, err = reconcile("alice")
			Expect(err).NotTo(HaveOccurred())

			err = k8sClient.Get(ctx, types.NamespacedName{Name: "alice"}, user)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			sa := &corev1.ServiceAccount{}
			err = k8sClient.Get(ctx, types.NamespacedName{Name: "alice-sa", Namespace: "dev-alice"}, sa)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			role := &rbacv1.Role{}
			err = k8sClient.Get(ctx, types.NamespacedName{Name: "devserver-user", Namespace: "dev-alice"}, role)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			ns := &corev1.Namespace{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "dev-alice"}, ns)).To(Succeed())
		})
	})
})
