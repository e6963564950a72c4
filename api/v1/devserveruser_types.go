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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PhaseReady is the steady-state phase of a provisioned DevServerUser.
const PhaseReady = "Ready"

// DevServerUserSpec defines the desired state of DevServerUser
type DevServerUserSpec struct {
	// Username is the cluster username this resource provisions access for
	// +required
	// +kubebuilder:validation:Pattern=`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`
	Username string `json:"username"`

	// Suspended revokes the user's RBAC without removing their namespace
	// +optional
	Suspended bool `json:"suspended,omitempty"`
}

// DevServerUserStatus defines the observed state of DevServerUser.
type DevServerUserStatus struct {
	// Namespace is the per-user namespace provisioned for this user
	// +optional
	Namespace string `json:"namespace,omitempty"`

	// Phase represents the provisioning state of the user
	// +optional
	// +kubebuilder:validation:Enum=Ready
	Phase string `json:"phase,omitempty"`

	// Message is a human-readable summary of the last reconcile
	// +optional
	Message string `json:"message,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster
// +kubebuilder:printcolumn:name="Namespace",type=string,JSONPath=`.status.namespace`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`

// DevServerUser is the Schema for the devserverusers API
type DevServerUser struct {
	metav1.TypeMeta `json:",inline"`

	// metadata is a standard object metadata
	// +optional
	metav1.ObjectMeta `json:"metadata,omitempty,omitzero"`

	// spec defines the desired state of DevServerUser
	// +required
	Spec DevServerUserSpec `json:"spec"`

	// status defines the observed state of DevServerUser
	// +optional
	Status DevServerUserStatus `json:"status,omitempty,omitzero"`
}

// +kubebuilder:object:root=true

// DevServerUserList contains a list of DevServerUser
type DevServerUserList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []DevServerUser `json:"items"`
}

func init() {
	SchemeBuilder.Register(&DevServerUser{}, &DevServerUserList{})
}
