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
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DevServer lifecycle phases reported in status.phase.
const (
	PhasePending = "Pending"
	PhaseRunning = "Running"
	PhaseFailed  = "Failed"
)

// DevServerSpec defines the desired state of DevServer
type DevServerSpec struct {
	// Owner specifies the email of the user who owns this DevServer
	// +optional
	Owner string `json:"owner,omitempty"`

	// Flavor references a DevServerFlavor resource that defines compute resources
	// +required
	Flavor string `json:"flavor"`

	// Image specifies the container image to use for the development server.
	// When empty, the operator-wide default image is used.
	// +optional
	Image string `json:"image,omitempty"`

	// Mode specifies whether this is a standalone server or distributed training
	// +optional
	// +kubebuilder:default="standalone"
	Mode string `json:"mode,omitempty"`

	// PersistentHomeSize specifies the size of the persistent home directory volume
	// +optional
	// +kubebuilder:default="10Gi"
	PersistentHomeSize resource.Quantity `json:"persistentHomeSize,omitempty"`

	// SharedVolumeClaimName specifies the name of a pre-existing shared volume claim
	// +optional
	SharedVolumeClaimName string `json:"sharedVolumeClaimName,omitempty"`

	// EnableSSH enables SSH access to the development server
	// +optional
	// +kubebuilder:default=true
	EnableSSH bool `json:"enableSSH,omitempty"`

	// SSH holds SSH access configuration
	// +required
	SSH SSHConfig `json:"ssh"`

	// Lifecycle defines lifecycle management settings
	// +required
	Lifecycle LifecycleConfig `json:"lifecycle"`
}

// SSHConfig defines SSH access settings for a DevServer
type SSHConfig struct {
	// PublicKey is the SSH public key authorized to log into the server
	// +required
	PublicKey string `json:"publicKey"`
}

// LifecycleConfig defines lifecycle management settings
type LifecycleConfig struct {
	// TimeToLive is the duration after creation at which the DevServer is
	// automatically deleted, e.g. "30m", "4h", "1d". Bounded by operator policy.
	// +required
	TimeToLive string `json:"timeToLive"`
}

// DevServerStatus defines the observed state of DevServer.
type DevServerStatus struct {
	// Phase represents the current phase of the DevServer lifecycle
	// +optional
	// +kubebuilder:validation:Enum=Pending;Running;Failed
	Phase string `json:"phase,omitempty"`

	// Message is a human-readable explanation of the current phase
	// +optional
	Message string `json:"message,omitempty"`

	// SSHEndpoint provides the SSH connection information when SSH is enabled
	// +optional
	SSHEndpoint string `json:"sshEndpoint,omitempty"`

	// ServiceName is the name of the SSH service created for this DevServer
	// +optional
	ServiceName string `json:"serviceName,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Flavor",type=string,JSONPath=`.spec.flavor`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="TTL",type=string,JSONPath=`.spec.lifecycle.timeToLive`

// DevServer is the Schema for the devservers API
type DevServer struct {
	metav1.TypeMeta `json:",inline"`

	// metadata is a standard object metadata
	// +optional
	metav1.ObjectMeta `json:"metadata,omitempty,omitzero"`

	// spec defines the desired state of DevServer
	// +required
	Spec DevServerSpec `json:"spec"`

	// status defines the observed state of DevServer
	// +optional
	Status DevServerStatus `json:"status,omitempty,omitzero"`
}

// +kubebuilder:object:root=true

// DevServerList contains a list of DevServer
type DevServerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []DevServer `json:"items"`
}

func init() {
	SchemeBuilder.Register(&DevServer{}, &DevServerList{})
}
