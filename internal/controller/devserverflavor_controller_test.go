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
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
)

var _ = Describe("DevServerFlavor Controller", func() {
	var (
		ctx        context.Context
		k8sClient  client.Client
		reconciler *DevServerFlavorReconciler
	)

	newNode := func(name string, labels map[string]string, cpu string) *corev1.Node {
		return &corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
			Status: corev1.NodeStatus{
				Allocatable: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse(cpu),
					corev1.ResourceMemory: resource.MustParse("16Gi"),
				},
			},
		}
	}

	newFlavor := func(name string, cpu string, selector map[string]string) *devserverv1.DevServerFlavor {
		spec := devserverv1.DevServerFlavorSpec{NodeSelector: selector}
		if cpu != "" {
			spec.Resources.Requests = corev1.ResourceList{
				corev1.ResourceCPU: resource.MustParse(cpu),
			}
		}
		return &devserverv1.DevServerFlavor{
			ObjectMeta: metav1.ObjectMeta{Name: name},
			Spec:       spec,
		}
	}

	setup := func(objs ...client.Object) {
		scheme := newTestScheme()
		k8sClient = newFakeClientBuilder(scheme).WithObjects(objs...).Build()
		reconciler = &DevServerFlavorReconciler{Client: k8sClient, Scheme: scheme}
	}

	schedulableOf := func(name string) string {
		flavor := &devserverv1.DevServerFlavor{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Name: name}, flavor)).To(Succeed())
		return flavor.Status.Schedulable
	}

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("marks a placeable flavor as Yes", func() {
		setup(newFlavor("small", "2", nil), newNode("n1", nil, "4"))

		_, err := reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Name: "small"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(schedulableOf("small")).To(Equal(devserverv1.SchedulableYes))
	})

	It("marks an oversized flavor as No", func() {
		setup(newFlavor("huge", "64", nil), newNode("n1", nil, "4"))

		_, err := reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Name: "huge"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(schedulableOf("huge")).To(Equal(devserverv1.SchedulableNo))
	})

	It("ignores requests for deleted flavors", func() {
		setup()
		_, err := reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Name: "gone"}})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("FlavorResync", func() {
		It("recomputes every flavor from one snapshot", func() {
			setup(
				newFlavor("small", "2", nil),
				newFlavor("pinned", "", map[string]string{"pool": "gpu"}),
				newNode("n1", nil, "4"),
			)
			resync := &FlavorResync{Client: k8sClient, Interval: time.Minute}

			Expect(resync.resync(ctx)).To(Succeed())
			Expect(schedulableOf("small")).To(Equal(devserverv1.SchedulableYes))
			Expect(schedulableOf("pinned")).To(Equal(devserverv1.SchedulableNo))
		})

		It("tracks capacity changes between passes", func() {
			setup(newFlavor("small", "2", nil))
			resync := &FlavorResync{Client: k8sClient, Interval: time.Minute}

			Expect(resync.resync(ctx)).To(Succeed())
			Expect(schedulableOf("small")).To(Equal(devserverv1.SchedulableNo))

			Expect(k8sClient.Create(ctx, newNode("n1", nil, "4"))).To(Succeed())
			Expect(resync.resync(ctx)).To(Succeed())
			Expect(schedulableOf("small")).To(Equal(devserverv1.SchedulableYes))
		})
	})
})
