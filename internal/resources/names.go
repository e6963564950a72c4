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

// Package resources synthesizes the Kubernetes objects backing a
// DevServer. All builders are pure: they take the DevServer and its
// resolved flavor and return object bodies without touching the cluster.
package resources

import "fmt"

// Child object names are all derived from the DevServer name so the
// mapping is deterministic in both directions.

func HeadlessServiceName(name string) string { return fmt.Sprintf("%s-headless", name) }
func SSHServiceName(name string) string     { return fmt.Sprintf("%s-ssh", name) }
func HostKeySecretName(name string) string  { return fmt.Sprintf("%s-host-keys", name) }
func SSHDConfigMapName(name string) string  { return fmt.Sprintf("%s-sshd-config", name) }
func StartupConfigMapName(name string) string { return fmt.Sprintf("%s-startup-script", name) }
func LoginConfigMapName(name string) string   { return fmt.Sprintf("%s-login-script", name) }

// SSHEndpoint is the in-cluster DNS endpoint of the SSH service.
func SSHEndpoint(name, namespace string) string {
	return fmt.Sprintf("%s.%s.svc.cluster.local:22", SSHServiceName(name), namespace)
}
