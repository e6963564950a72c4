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

// Package scheduling computes whether a DevServerFlavor is currently
// placeable against live node inventory, running-pod consumption and
// autoscaling node pools. It mirrors the scheduler's feasibility rules
// (node selectors, NoSchedule taints, allocatable-minus-requested fit)
// without performing any actual placement.
package scheduling

import (
	"context"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
	"github.com/devserver-io/devserver-operator/internal/quantity"
)

// NodePoolGVK identifies Karpenter node pools, read dynamically so the
// operator works on clusters without the CRD installed.
var NodePoolGVK = schema.GroupVersionKind{
	Group:   "karpenter.sh",
	Version: "v1",
	Kind:    "NodePool",
}

// ClusterState is a point-in-time snapshot of everything schedulability
// depends on. Pod resource consumption is aggregated once at snapshot
// time so checking many flavors does not rescan every pod.
type ClusterState struct {
	Nodes     []corev1.Node
	NodePools []unstructured.Unstructured

	usedByNode map[string]map[corev1.ResourceName]float64
}

// Snapshot lists nodes, pods and autoscaling pools and pre-aggregates
// per-node consumption. A missing NodePool CRD is treated as "no
// autoscaling", not an error.
func Snapshot(ctx context.Context, c client.Reader, log logr.Logger) (*ClusterState, error) {
	var nodes corev1.NodeList
	if err := c.List(ctx, &nodes); err != nil {
		return nil, err
	}

	var pods corev1.PodList
	if err := c.List(ctx, &pods); err != nil {
		return nil, err
	}

	pools := &unstructured.UnstructuredList{}
	pools.SetGroupVersionKind(NodePoolGVK)
	if err := c.List(ctx, pools); err != nil {
		log.V(1).Info("node pools unavailable, assuming no autoscaling", "reason", err.Error())
		pools.Items = nil
	}

	return NewClusterState(nodes.Items, pools.Items, pods.Items), nil
}

// NewClusterState builds a snapshot from already-listed objects.
func NewClusterState(nodes []corev1.Node, pools []unstructured.Unstructured, pods []corev1.Pod) *ClusterState {
	state := &ClusterState{
		Nodes:      nodes,
		NodePools:  pools,
		usedByNode: make(map[string]map[corev1.ResourceName]float64),
	}

	for i := range pods {
		pod := &pods[i]
		if pod.Spec.NodeName == "" {
			continue
		}
		if pod.Status.Phase != corev1.PodRunning && pod.Status.Phase != corev1.PodPending {
			continue
		}
		used := state.usedByNode[pod.Spec.NodeName]
		if used == nil {
			used = make(map[corev1.ResourceName]float64)
			state.usedByNode[pod.Spec.NodeName] = used
		}
		for _, container := range pod.Spec.Containers {
			for name, request := range container.Resources.Requests {
				used[name] += quantity.FromQuantity(request)
			}
		}
	}

	return state
}

// Schedulability classifies a flavor as AUTOSCALED, Yes or No, in that
// precedence order: a ready autoscaling pool covering the flavor's node
// selector wins regardless of current node occupancy.
func (s *ClusterState) Schedulability(flavor *devserverv1.DevServerFlavor) string {
	for i := range s.NodePools {
		pool := &s.NodePools[i]
		if poolCoversSelector(pool, flavor.Spec.NodeSelector) && poolIsReady(pool) {
			return devserverv1.SchedulableAutoscaled
		}
	}

	requests := flavor.Spec.Resources.Requests

	for i := range s.Nodes {
		node := &s.Nodes[i]
		if !selectorMatchesLabels(flavor.Spec.NodeSelector, node.Labels) {
			continue
		}
		if !toleratesNoScheduleTaints(flavor.Spec.Tolerations, node.Spec.Taints) {
			continue
		}
		if len(requests) == 0 {
			// No requests declared: any selector/taint-matching node will do.
			return devserverv1.SchedulableYes
		}
		if s.nodeFits(node, requests) {
			return devserverv1.SchedulableYes
		}
	}

	return devserverv1.SchedulableNo
}

func (s *ClusterState) nodeFits(node *corev1.Node, requests corev1.ResourceList) bool {
	used := s.usedByNode[node.Name]
	for name, requested := range requests {
		allocatable := 0.0
		if alloc, ok := node.Status.Allocatable[name]; ok {
			allocatable = quantity.FromQuantity(alloc)
		}
		available := allocatable - used[name]
		if quantity.FromQuantity(requested) > available {
			return false
		}
	}
	return true
}

// selectorMatchesLabels reports whether every selector entry appears in
// the node's labels. An empty selector matches all nodes.
func selectorMatchesLabels(selector, labels map[string]string) bool {
	if len(selector) == 0 {
		return true
	}
	if len(labels) == 0 {
		return false
	}
	for key, value := range selector {
		if labels[key] != value {
			return false
		}
	}
	return true
}

// toleratesNoScheduleTaints checks every NoSchedule taint against the
// toleration list. Taints with other effects do not block placement
// feasibility and are ignored here.
func toleratesNoScheduleTaints(tolerations []corev1.Toleration, taints []corev1.Taint) bool {
	for _, taint := range taints {
		if taint.Effect != corev1.TaintEffectNoSchedule {
			continue
		}
		if !taintTolerated(taint, tolerations) {
			return false
		}
	}
	return true
}

func taintTolerated(taint corev1.Taint, tolerations []corev1.Toleration) bool {
	for _, toleration := range tolerations {
		// An empty key with Exists tolerates all keys, values and effects.
		if toleration.Key == "" && toleration.Operator == corev1.TolerationOpExists {
			return true
		}
		// Effect must match unless the toleration leaves it open.
		if toleration.Effect != "" && toleration.Effect != taint.Effect {
			continue
		}
		if toleration.Key != taint.Key {
			continue
		}
		switch toleration.Operator {
		case corev1.TolerationOpExists:
			return true
		case corev1.TolerationOpEqual, "":
			if toleration.Value == taint.Value {
				return true
			}
		}
	}
	return false
}

// poolCoversSelector reports whether the pool's node requirements are a
// superset of the flavor's node selector: every selector entry must be
// satisfiable by a requirement on the same key.
func poolCoversSelector(pool *unstructured.Unstructured, selector map[string]string) bool {
	requirements, _, _ := unstructured.NestedSlice(pool.Object, "spec", "template", "spec", "requirements")

	poolSelector := make(map[string]string, len(requirements))
	for _, raw := range requirements {
		req, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, _, _ := unstructured.NestedString(req, "key")
		values, _, _ := unstructured.NestedStringSlice(req, "values")
		if key != "" && len(values) > 0 {
			poolSelector[key] = values[0]
		}
	}

	for key, value := range selector {
		if poolSelector[key] != value {
			return false
		}
	}
	return true
}

func poolIsReady(pool *unstructured.Unstructured) bool {
	conditions, _, _ := unstructured.NestedSlice(pool.Object, "status", "conditions")
	for _, raw := range conditions {
		condition, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		condType, _, _ := unstructured.NestedString(condition, "type")
		condStatus, _, _ := unstructured.NestedString(condition, "status")
		if condType == "Ready" && condStatus == "True" {
			return true
		}
	}
	return false
}
