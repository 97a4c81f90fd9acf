/*
Copyright 2025 The airia-test-pod Authors.

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

package probes

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// PVC validates that the cluster can provision persistent volumes: it
// lists storage classes, creates a small claim in the pod's namespace,
// waits briefly for binding, and deletes the claim again.
type PVC struct {
	cfg config.Kubernetes

	// newClient is swapped in tests.
	newClient func() (kubernetes.Interface, error)
}

func NewPVC(cfg config.Kubernetes) *PVC {
	return &PVC{cfg: cfg, newClient: inClusterClient}
}

func inClusterClient() (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restCfg)
}

func (p *PVC) ID() string          { return "pvc" }
func (p *PVC) DisplayName() string { return "Kubernetes PVC" }
func (p *PVC) Configured() bool    { return p.cfg.PVCEnabled }
func (p *PVC) MissingKeys() []string {
	if p.cfg.PVCEnabled {
		return nil
	}
	return []string{"PVC_ENABLED"}
}

func (p *PVC) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(p)
	if !p.Configured() {
		return probe.Skipped(p, p.MissingKeys())
	}
	client, err := p.newClient()
	if err != nil {
		r.Fail("namespace_access", fmt.Sprintf("building in-cluster client: %v", err),
			"this probe needs to run inside a cluster with a service account mounted", "K8S_CLIENT")
		return r.Complete()
	}

	p.listStorageClasses(ctx, r, client)
	if !p.namespaceAccess(ctx, r, client) {
		return r.Complete()
	}
	claim, ok := p.createClaim(ctx, r, client)
	if !ok {
		return r.Complete()
	}
	p.claimStatus(ctx, r, client, claim)
	p.cleanup(ctx, r, client, claim)
	return r.Complete()
}

func (p *PVC) listStorageClasses(ctx context.Context, r *probe.Recorder, client kubernetes.Interface) {
	classes, err := client.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		r.Fail("list_storage_classes", fmt.Sprintf("listing storage classes: %v", err),
			"grant the service account get/list on storageclasses.storage.k8s.io", "K8S_RBAC")
		return
	}
	names := make([]string, 0, len(classes.Items))
	found := p.cfg.StorageClass == ""
	for _, sc := range classes.Items {
		names = append(names, sc.Name)
		if sc.Name == p.cfg.StorageClass {
			found = true
		}
	}
	if !found {
		r.Fail("list_storage_classes",
			fmt.Sprintf("configured storage class %q not found among: %s", p.cfg.StorageClass, strings.Join(names, ", ")),
			"set KUBERNETES_STORAGE_CLASS to one of the cluster's storage classes or leave it empty for the default", "K8S_STORAGECLASS")
		return
	}
	r.Pass("list_storage_classes", fmt.Sprintf("%d storage classes available", len(names)),
		map[string]any{"classes": names})
}

func (p *PVC) namespaceAccess(ctx context.Context, r *probe.Recorder, client kubernetes.Interface) bool {
	_, err := client.CoreV1().PersistentVolumeClaims(p.cfg.Namespace).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		r.Fail("namespace_access", fmt.Sprintf("listing claims in %q: %v", p.cfg.Namespace, err),
			"grant the service account list/create/delete on persistentvolumeclaims in its own namespace", "K8S_RBAC")
		return false
	}
	r.Pass("namespace_access", fmt.Sprintf("claims are listable in namespace %q", p.cfg.Namespace), nil)
	return true
}

func (p *PVC) createClaim(ctx context.Context, r *probe.Recorder, client kubernetes.Interface) (*corev1.PersistentVolumeClaim, bool) {
	size, err := resource.ParseQuantity(p.cfg.TestPVCSize)
	if err != nil {
		r.Fail("pvc_creation", fmt.Sprintf("invalid test size %q: %v", p.cfg.TestPVCSize, err),
			"KUBERNETES_TEST_PVC_SIZE must be a Kubernetes quantity such as 1Gi", "K8S_PVC_SIZE")
		return nil, false
	}
	claim := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: "airia-preflight-",
			Namespace:    p.cfg.Namespace,
			Labels:       map[string]string{"app.kubernetes.io/created-by": "airia-test-pod"},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
	if p.cfg.StorageClass != "" {
		claim.Spec.StorageClassName = &p.cfg.StorageClass
	}
	created, err := client.CoreV1().PersistentVolumeClaims(p.cfg.Namespace).Create(ctx, claim, metav1.CreateOptions{})
	if err != nil {
		r.Fail("pvc_creation", fmt.Sprintf("creating claim: %v", err),
			"the provisioner rejected the claim; check quota and the storage class parameters", "K8S_PVC_CREATE")
		return nil, false
	}
	r.Pass("pvc_creation", fmt.Sprintf("created claim %s (%s)", created.Name, p.cfg.TestPVCSize), nil)
	return created, true
}

// claimStatus waits briefly for the claim to bind. Pending is not a
// failure: WaitForFirstConsumer classes never bind without a pod.
func (p *PVC) claimStatus(ctx context.Context, r *probe.Recorder, client kubernetes.Interface, claim *corev1.PersistentVolumeClaim) {
	deadline := time.After(10 * time.Second)
	for {
		got, err := client.CoreV1().PersistentVolumeClaims(p.cfg.Namespace).Get(ctx, claim.Name, metav1.GetOptions{})
		if err != nil {
			r.Fail("pvc_status", fmt.Sprintf("reading claim %s: %v", claim.Name, err), "", "K8S_PVC_STATUS")
			return
		}
		switch got.Status.Phase {
		case corev1.ClaimBound:
			r.Pass("pvc_status", fmt.Sprintf("claim %s is Bound", claim.Name), nil)
			return
		case corev1.ClaimLost:
			r.Fail("pvc_status", fmt.Sprintf("claim %s is Lost", claim.Name),
				"the bound volume disappeared; check the storage provisioner's health", "K8S_PVC_STATUS")
			return
		}
		select {
		case <-ctx.Done():
			r.Pass("pvc_status", fmt.Sprintf("claim %s is Pending (volume binding may wait for a consumer)", claim.Name), nil)
			return
		case <-deadline:
			r.Pass("pvc_status", fmt.Sprintf("claim %s is Pending (volume binding may wait for a consumer)", claim.Name), nil)
			return
		case <-time.After(time.Second):
		}
	}
}

func (p *PVC) cleanup(ctx context.Context, r *probe.Recorder, client kubernetes.Interface, claim *corev1.PersistentVolumeClaim) {
	err := client.CoreV1().PersistentVolumeClaims(p.cfg.Namespace).Delete(ctx, claim.Name, metav1.DeleteOptions{})
	if err != nil {
		r.Fail("pvc_cleanup", fmt.Sprintf("deleting claim %s: %v", claim.Name, err),
			fmt.Sprintf("delete the claim by hand: kubectl -n %s delete pvc %s", p.cfg.Namespace, claim.Name), "K8S_PVC_DELETE")
		return
	}
	r.Pass("pvc_cleanup", fmt.Sprintf("deleted claim %s", claim.Name), nil)
}
