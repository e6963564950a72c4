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
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	devserverv1 "github.com/devserver-io/devserver-operator/api/v1"
)

// log is for logging in this package.
var devserverflavorlog = logf.Log.WithName("devserverflavor-resource")

// SetupDevServerFlavorWebhookWithManager registers the webhook for DevServerFlavor in the manager.
func SetupDevServerFlavorWebhookWithManager(mgr ctrl.Manager) error {
	return ctrl.NewWebhookManagedBy(mgr).For(&devserverv1.DevServerFlavor{}).
		WithValidator(&DevServerFlavorCustomValidator{Client: mgr.GetClient()}).
		Complete()
}

// +kubebuilder:webhook:path=/validate-devserver-io-v1-devserverflavor,mutating=false,failurePolicy=fail,sideEffects=None,groups=devserver.io,resources=devserverflavors,verbs=create;update,versions=v1,name=vdevserverflavor-v1.kb.io,admissionReviewVersions=v1

// DevServerFlavorCustomValidator enforces that at most one flavor in
// the cluster is marked as the default.
type DevServerFlavorCustomValidator struct {
	Client client.Client
}

var _ webhook.CustomValidator = &DevServerFlavorCustomValidator{}

// ValidateCreate implements webhook.CustomValidator so a webhook will be registered for the type DevServerFlavor.
func (v *DevServerFlavorCustomValidator) ValidateCreate(ctx context.Context, obj runtime.Object) (admission.Warnings, error) {
	flavor, ok := obj.(*devserverv1.DevServerFlavor)
	if !ok {
		return nil, fmt.Errorf("expected a DevServerFlavor object but got %T", obj)
	}
	devserverflavorlog.Info("Validation for DevServerFlavor upon creation", "name", flavor.GetName())

	return nil, v.validateDefaultExclusivity(ctx, flavor)
}

// ValidateUpdate implements webhook.CustomValidator so a webhook will be registered for the type DevServerFlavor.
func (v *DevServerFlavorCustomValidator) ValidateUpdate(ctx context.Context, _, newObj runtime.Object) (admission.Warnings, error) {
	flavor, ok := newObj.(*devserverv1.DevServerFlavor)
	if !ok {
		return nil, fmt.Errorf("expected a DevServerFlavor object for the newObj but got %T", newObj)
	}
	devserverflavorlog.Info("Validation for DevServerFlavor upon update", "name", flavor.GetName())

	return nil, v.validateDefaultExclusivity(ctx, flavor)
}

// ValidateDelete implements webhook.CustomValidator so a webhook will be registered for the type DevServerFlavor.
func (v *DevServerFlavorCustomValidator) ValidateDelete(_ context.Context, obj runtime.Object) (admission.Warnings, error) {
	if _, ok := obj.(*devserverv1.DevServerFlavor); !ok {
		return nil, fmt.Errorf("expected a DevServerFlavor object but got %T", obj)
	}
	return nil, nil
}

// validateDefaultExclusivity rejects a default-flagged flavor when a
// different flavor already holds the default. Re-applying the current
// holder is always accepted.
func (v *DevServerFlavorCustomValidator) validateDefaultExclusivity(ctx context.Context, flavor *devserverv1.DevServerFlavor) error {
	if !flavor.Spec.Default {
		return nil
	}

	var flavors devserverv1.DevServerFlavorList
	if err := v.Client.List(ctx, &flavors); err != nil {
		return fmt.Errorf("listing flavors: %w", err)
	}

	for i := range flavors.Items {
		existing := &flavors.Items[i]
		if existing.Name == flavor.Name {
			continue
		}
		if existing.Spec.Default {
			return fmt.Errorf("flavor '%s' is already the default; unset its default flag first", existing.Name)
		}
	}
	return nil
}
