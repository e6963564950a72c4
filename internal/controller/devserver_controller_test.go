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
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
	"github.com/devserver-io/devserver-operator/internal/config"
	"github.com/devserver-io/devserver-operator/internal/resources"
)

var _ = Describe("DevServer Controller", func() {
	const namespace = "default"

	var (
		ctx        context.Context
		reconciler *DevServerReconciler
		k8sClient  client.Client
		flavor     *devserverv1.DevServerFlavor
	)

	newDevServer := func(name, ttl string) *devserverv1.DevServer {
		return &devserverv1.DevServer{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
			Spec: devserverv1.DevServerSpec{
				Owner:     "alice@example.com",
				Flavor:    "small",
				EnableSSH: true,
				SSH:       devserverv1.SSHConfig{PublicKey: "ssh-ed25519 AAAA alice@laptop"},
				Lifecycle: devserverv1.LifecycleConfig{TimeToLive: ttl},
			},
		}
	}

	reconcile := func(name string) (ctrl.Result, error) {
		return reconciler.Reconcile(ctx, ctrl.Request{
			NamespacedName: types.NamespacedName{Name: name, Namespace: namespace},
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		scheme := newTestScheme()

		flavor = &devserverv1.DevServerFlavor{
			ObjectMeta: metav1.ObjectMeta{Name: "small"},
			Spec: devserverv1.DevServerFlavorSpec{
				Resources: devserverv1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse("2"),
						corev1.ResourceMemory: resource.MustParse("8Gi"),
					},
				},
			},
		}

		k8sClient = newFakeClientBuilder(scheme).WithObjects(flavor).Build()
		reconciler = &DevServerReconciler{
			Client: k8sClient,
			Scheme: scheme,
			Config: config.Load(),
		}
	})

	Context("when reconciling a valid DevServer", func() {
		It("creates the StatefulSet and supporting objects", func() {
			devServer := newDevServer("ds1", "4h")
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			_, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())

			sts := &appsv1.StatefulSet{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "ds1", Namespace: namespace}, sts)).To(Succeed())
			Expect(*sts.Spec.Replicas).To(Equal(int32(1)))
			Expect(sts.OwnerReferences).To(HaveLen(1))
			Expect(sts.OwnerReferences[0].Kind).To(Equal("DevServer"))

			for _, name := range []string{
				resources.SSHDConfigMapName("ds1"),
				resources.StartupConfigMapName("ds1"),
				resources.LoginConfigMapName("ds1"),
			} {
				cm := &corev1.ConfigMap{}
				Expect(k8sClient.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, cm)).To(Succeed())
			}

			headless := &corev1.Service{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: resources.HeadlessServiceName("ds1"), Namespace: namespace}, headless)).To(Succeed())
			Expect(headless.Spec.ClusterIP).To(Equal(corev1.ClusterIPNone))

			ssh := &corev1.Service{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: resources.SSHServiceName("ds1"), Namespace: namespace}, ssh)).To(Succeed())
			Expect(ssh.Spec.Type).To(Equal(corev1.ServiceTypeNodePort))
		})

		It("generates host keys once and stores them in a Secret", func() {
			devServer := newDevServer("ds1", "4h")
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			_, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())

			secret := &corev1.Secret{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: resources.HostKeySecretName("ds1"), Namespace: namespace}, secret)).To(Succeed())
			Expect(secret.Data).To(HaveKey("ssh_host_rsa_key"))
			Expect(secret.Data).To(HaveKey("ssh_host_ecdsa_key"))
			Expect(secret.Data).To(HaveKey("ssh_host_ed25519_key"))

			// A second reconcile must keep the original key material.
			original := secret.Data["ssh_host_ed25519_key"]
			_, err = reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: resources.HostKeySecretName("ds1"), Namespace: namespace}, secret)).To(Succeed())
			Expect(secret.Data["ssh_host_ed25519_key"]).To(Equal(original))
		})

		It("sets status to Running with the SSH endpoint", func() {
			devServer := newDevServer("ds1", "4h")
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			_, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())

			updated := &devserverv1.DevServer{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "ds1", Namespace: namespace}, updated)).To(Succeed())
			Expect(updated.Status.Phase).To(Equal(devserverv1.PhaseRunning))
			Expect(updated.Status.ServiceName).To(Equal("ds1-ssh"))
			Expect(updated.Status.SSHEndpoint).To(Equal("ds1-ssh.default.svc.cluster.local:22"))
		})

		It("is idempotent when objects already exist", func() {
			devServer := newDevServer("ds1", "4h")
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			_, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())

			updated := &devserverv1.DevServer{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "ds1", Namespace: namespace}, updated)).To(Succeed())
			Expect(updated.Status.Phase).To(Equal(devserverv1.PhaseRunning))
		})

		It("does not create the SSH service when SSH is disabled", func() {
			devServer := newDevServer("ds1", "4h")
			devServer.Spec.EnableSSH = false
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			_, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())

			ssh := &corev1.Service{}
			err = k8sClient.Get(ctx, types.NamespacedName{Name: resources.SSHServiceName("ds1"), Namespace: namespace}, ssh)
			Expect(err).To(HaveOccurred())

			updated := &devserverv1.DevServer{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "ds1", Namespace: namespace}, updated)).To(Succeed())
			Expect(updated.Status.SSHEndpoint).To(BeEmpty())
		})
	})

	Context("when the spec cannot be satisfied", func() {
		It("fails permanently on a missing flavor", func() {
			devServer := newDevServer("ds1", "4h")
			devServer.Spec.Flavor = "nonexistent"
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			result, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Requeue).To(BeFalse()) //nolint:staticcheck

			updated := &devserverv1.DevServer{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "ds1", Namespace: namespace}, updated)).To(Succeed())
			Expect(updated.Status.Phase).To(Equal(devserverv1.PhaseFailed))
			Expect(updated.Status.Message).To(ContainSubstring("flavor 'nonexistent' not found"))
		})

		It("fails permanently on a malformed timeToLive", func() {
			devServer := newDevServer("ds1", "soon")
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			_, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())

			updated := &devserverv1.DevServer{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "ds1", Namespace: namespace}, updated)).To(Succeed())
			Expect(updated.Status.Phase).To(Equal(devserverv1.PhaseFailed))
			Expect(updated.Status.Message).To(ContainSubstring("invalid timeToLive"))
		})

		It("fails permanently when timeToLive exceeds the configured maximum", func() {
			devServer := newDevServer("ds1", "7d")
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			_, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())

			updated := &devserverv1.DevServer{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{Name: "ds1", Namespace: namespace}, updated)).To(Succeed())
			Expect(updated.Status.Phase).To(Equal(devserverv1.PhaseFailed))
			Expect(updated.Status.Message).To(ContainSubstring("exceeds maximum"))
		})

		It("does not create children after a validation failure", func() {
			devServer := newDevServer("ds1", "")
			Expect(k8sClient.Create(ctx, devServer)).To(Succeed())

			_, err := reconcile("ds1")
			Expect(err).NotTo(HaveOccurred())

			sts := &appsv1.StatefulSet{}
			err = k8sClient.Get(ctx, types.NamespacedName{Name: "ds1", Namespace: namespace}, sts)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when the DevServer is gone", func() {
		It("ignores requests for deleted objects", func() {
			_, err := reconcile("never-existed")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
