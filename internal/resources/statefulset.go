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
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
)

// StaticDependenciesImage carries the statically linked sshd, scp,
// sftp-server and ssh-keygen binaries the init container copies into
// the workload image, so any base image can serve as a devserver.
const StaticDependenciesImage = "devserver-io/devserver-static-dependencies:latest"

const initScript = `set -ex
echo "[INIT] Copying portable binaries..."
cp /usr/local/bin/sshd /opt/bin/
cp /usr/local/bin/scp /opt/bin/
cp /usr/local/bin/sftp-server /opt/bin/
cp /usr/local/bin/ssh-keygen /opt/bin/
chmod +x /opt/bin/sshd
echo "[INIT] Binaries copied."
`

// BuildStatefulSet builds the single-replica StatefulSet backing a
// DevServer. The home directory comes from a volumeClaimTemplate, so the
// PVC survives DevServer deletion: StatefulSet garbage collection leaves
// claims in place and the operator never removes them.
func BuildStatefulSet(devServer *devserverv1.DevServer, flavor *devserverv1.DevServerFlavor, defaultImage string) *appsv1.StatefulSet {
	name := devServer.Name
	labels := map[string]string{"app": name}

	image := devServer.Spec.Image
	if image == "" {
		image = defaultImage
	}

	homeSize := devServer.Spec.PersistentHomeSize
	if homeSize.IsZero() {
		homeSize = resource.MustParse("10Gi")
	}

	replicas := int32(1)
	scriptMode := int32(0o755)
	hostKeyMode := int32(0o600)

	podSpec := corev1.PodSpec{
		NodeSelector: flavor.Spec.NodeSelector,
		Tolerations:  flavor.Spec.Tolerations,
		InitContainers: []corev1.Container{
			{
				Name:            "install-sshd",
				Image:           StaticDependenciesImage,
				ImagePullPolicy: corev1.PullAlways,
				Command:         []string{"/bin/sh", "-c"},
				Args:            []string{initScript},
				VolumeMounts: []corev1.VolumeMount{
					{Name: "bin", MountPath: "/opt/bin"},
				},
			},
		},
		Containers: []corev1.Container{
			{
				Name:            "devserver",
				Image:           image,
				ImagePullPolicy: corev1.PullAlways,
				Command:         []string{"/bin/sh", "-c"},
				Args:            []string{"/devserver/startup.sh"},
				Ports: []corev1.ContainerPort{
					{ContainerPort: 22},
				},
				VolumeMounts: []corev1.VolumeMount{
					{Name: "home", MountPath: "/home/dev"},
					{Name: "bin", MountPath: "/opt/bin"},
					{Name: "startup-script", MountPath: "/devserver", ReadOnly: true},
					{
						Name:      "login-script",
						MountPath: "/devserver-login/user_login.sh",
						SubPath:   "user_login.sh",
						ReadOnly:  true,
					},
					{
						Name:      "sshd-config",
						MountPath: "/opt/ssh/sshd_config",
						SubPath:   "sshd_config",
						ReadOnly:  true,
					},
					{Name: "host-keys", MountPath: "/opt/ssh/hostkeys", ReadOnly: true},
				},
				Resources: corev1.ResourceRequirements{
					Requests: flavor.Spec.Resources.Requests,
					Limits:   flavor.Spec.Resources.Limits,
				},
				Env: []corev1.EnvVar{
					{Name: "SSH_PUBLIC_KEY", Value: devServer.Spec.SSH.PublicKey},
					{Name: "DEVSERVER_OWNER", Value: devServer.Spec.Owner},
				},
			},
		},
		Volumes: []corev1.Volume{
			{
				Name:         "bin",
				VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
			},
			{
				Name: "startup-script",
				VolumeSource: corev1.VolumeSource{
					ConfigMap: &corev1.ConfigMapVolumeSource{
						LocalObjectReference: corev1.LocalObjectReference{Name: StartupConfigMapName(name)},
						DefaultMode:          &scriptMode,
					},
				},
			},
			{
				Name: "login-script",
				VolumeSource: corev1.VolumeSource{
					ConfigMap: &corev1.ConfigMapVolumeSource{
						LocalObjectReference: corev1.LocalObjectReference{Name: LoginConfigMapName(name)},
						DefaultMode:          &scriptMode,
					},
				},
			},
			{
				Name: "sshd-config",
				VolumeSource: corev1.VolumeSource{
					ConfigMap: &corev1.ConfigMapVolumeSource{
						LocalObjectReference: corev1.LocalObjectReference{Name: SSHDConfigMapName(name)},
					},
				},
			},
			{
				Name: "host-keys",
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{
						SecretName:  HostKeySecretName(name),
						DefaultMode: &hostKeyMode,
					},
				},
			},
		},
	}

	if devServer.Spec.SharedVolumeClaimName != "" {
		podSpec.Volumes = append(podSpec.Volumes, corev1.Volume{
			Name: "shared",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: devServer.Spec.SharedVolumeClaimName,
				},
			},
		})
		podSpec.Containers[0].VolumeMounts = append(podSpec.Containers[0].VolumeMounts, corev1.VolumeMount{
			Name:      "shared",
			MountPath: "/shared",
		})
	}

	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: devServer.Namespace,
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:    &replicas,
			ServiceName: HeadlessServiceName(name),
			Selector: &metav1.LabelSelector{
				MatchLabels: labels,
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{
				{
					ObjectMeta: metav1.ObjectMeta{Name: "home"},
					Spec: corev1.PersistentVolumeClaimSpec{
						AccessModes: []corev1.PersistentVolumeAccessMode{
							corev1.ReadWriteOnce,
						},
						Resources: corev1.VolumeResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceStorage: homeSize,
							},
						},
					},
				},
			},
		},
	}
}
