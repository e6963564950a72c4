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

package resources

import (
	_ "embed"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
)

//go:embed scripts/startup.sh
var startupScript string

//go:embed scripts/user_login.sh
var userLoginScript string

const sshdConfig = `# This file is managed by the devserver operator

Port 22
PermitRootLogin no
PasswordAuthentication no
ChallengeResponseAuthentication no
PrintMotd no
ForceCommand /devserver-login/user_login.sh
Subsystem sftp /opt/bin/sftp-server
AuthorizedKeysFile /home/dev/.ssh/authorized_keys
HostKey /opt/ssh/hostkeys/ssh_host_rsa_key
HostKey /opt/ssh/hostkeys/ssh_host_ecdsa_key
HostKey /opt/ssh/hostkeys/ssh_host_ed25519_key
AllowAgentForwarding yes
`

// BuildSSHDConfigMap builds the ConfigMap carrying sshd_config.
func BuildSSHDConfigMap(devServer *devserverv1.DevServer) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      SSHDConfigMapName(devServer.Name),
			Namespace: devServer.Namespace,
		},
		Data: map[string]string{
			"sshd_config": sshdConfig,
		},
	}
}

// BuildStartupConfigMap builds the ConfigMap carrying the container
// bootstrap script.
func BuildStartupConfigMap(devServer *devserverv1.DevServer) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      StartupConfigMapName(devServer.Name),
			Namespace: devServer.Namespace,
		},
		Data: map[string]string{
			"startup.sh": startupScript,
		},
	}
}

// BuildLoginConfigMap builds the ConfigMap carrying the per-session
// login script referenced by sshd's ForceCommand.
func BuildLoginConfigMap(devServer *devserverv1.DevServer) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      LoginConfigMapName(devServer.Name),
			Namespace: devServer.Namespace,
		},
		Data: map[string]string{
			"user_login.sh": userLoginScript,
		},
	}
}
