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

package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

const logTailLines = int64(1000)

// scraper walks one namespace and writes its findings into a working
// directory, one file per pod plus namespace-level files.
type scraper struct {
	client    kubernetes.Interface
	namespace string
	since     *time.Time
	emit      func(line string)

	// execEnv runs `env` in a pod's container; swapped in tests.
	execEnv func(ctx context.Context, pod, container string) (string, error)
}

// collectCluster is the production CollectFunc: it scrapes the cluster
// this pod runs in using the mounted service account.
func (c *Collector) collectCluster(ctx context.Context, namespace string, since *time.Time, outDir string, emit func(line string)) (string, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return "", fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return "", fmt.Errorf("building clientset: %w", err)
	}
	s := &scraper{
		client:    client,
		namespace: namespace,
		since:     since,
		emit:      emit,
		execEnv: func(ctx context.Context, pod, container string) (string, error) {
			return execEnv(ctx, restCfg, client, namespace, pod, container)
		},
	}
	return s.run(ctx, outDir)
}

func (s *scraper) progress(step, detail string) {
	s.emit(fmt.Sprintf("%s%s:%s", progressPrefix, step, detail))
}

// warn records a non-fatal retrieval failure.
func (s *scraper) warn(detail string) {
	s.progress("error", detail)
}

func (s *scraper) run(ctx context.Context, outDir string) (string, error) {
	s.progress("init", "creating output directory")
	workDir, err := os.MkdirTemp(outDir, "collect-")
	if err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	s.namespaceFiles(ctx, workDir)

	pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("listing pods in %s: %w", s.namespace, err)
	}
	s.progress("discover", fmt.Sprintf("%d pods", len(pods.Items)))

	for i := range pods.Items {
		pod := &pods.Items[i]
		tag := fmt.Sprintf("%d/%d", i+1, len(pods.Items))
		if err := s.podFile(ctx, workDir, pod, tag); err != nil {
			return "", err
		}
		s.progress("pod-done:"+tag, pod.Name)
	}

	s.progress("archive", "compressing")
	artifact := filepath.Join(outDir,
		fmt.Sprintf("diagnostics-%s-%s.tar.gz", s.namespace, time.Now().Format("20060102-150405")))
	if err := archiveDir(workDir, artifact); err != nil {
		return "", fmt.Errorf("archiving: %w", err)
	}
	s.progress("complete", filepath.Base(artifact))
	return artifact, nil
}

// namespaceFiles writes events, services, configmap and secret
// listings. Failures are recorded in the file and counted, not fatal.
func (s *scraper) namespaceFiles(ctx context.Context, workDir string) {
	s.progress("events", s.namespace)
	s.writeFile(workDir, "namespace-events.txt", s.renderEvents(ctx))
	s.progress("services", s.namespace)
	s.writeFile(workDir, "services.txt", s.renderServices(ctx))
	s.progress("configmaps", s.namespace)
	s.writeFile(workDir, "configmaps.txt", s.renderConfigMaps(ctx))
	s.progress("secrets", s.namespace)
	s.writeFile(workDir, "secrets.txt", s.renderSecretNames(ctx))
}

func (s *scraper) writeFile(dir, name, content string) {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		s.warn(fmt.Sprintf("writing %s: %v", name, err))
	}
}

func (s *scraper) renderEvents(ctx context.Context) string {
	events, err := s.client.CoreV1().Events(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		s.warn(fmt.Sprintf("listing events: %v", err))
		return fmt.Sprintf("Could not retrieve events: %v\n", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Events in namespace %s (%d)\n\n", s.namespace, len(events.Items))
	for _, ev := range events.Items {
		fmt.Fprintf(&b, "%s  %-8s %-20s %s/%s: %s\n",
			ev.LastTimestamp.Format(time.RFC3339), ev.Type, ev.Reason,
			ev.InvolvedObject.Kind, ev.InvolvedObject.Name, ev.Message)
	}
	return b.String()
}

func (s *scraper) renderServices(ctx context.Context) string {
	services, err := s.client.CoreV1().Services(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		s.warn(fmt.Sprintf("listing services: %v", err))
		return fmt.Sprintf("Could not retrieve services: %v\n", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Services in namespace %s (%d)\n\n", s.namespace, len(services.Items))
	for _, svc := range services.Items {
		ports := make([]string, 0, len(svc.Spec.Ports))
		for _, p := range svc.Spec.Ports {
			ports = append(ports, fmt.Sprintf("%d/%s", p.Port, p.Protocol))
		}
		fmt.Fprintf(&b, "%-40s %-12s %-16s %s\n",
			svc.Name, svc.Spec.Type, svc.Spec.ClusterIP, strings.Join(ports, ","))
	}
	return b.String()
}

func (s *scraper) renderConfigMaps(ctx context.Context) string {
	cms, err := s.client.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		s.warn(fmt.Sprintf("listing configmaps: %v", err))
		return fmt.Sprintf("Could not retrieve configmaps: %v\n", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ConfigMaps in namespace %s (%d)\n\n", s.namespace, len(cms.Items))
	for _, cm := range cms.Items {
		fmt.Fprintf(&b, "%-50s %d keys\n", cm.Name, len(cm.Data)+len(cm.BinaryData))
	}
	return b.String()
}

// renderSecretNames lists secret names and types only. Secret values
// appear solely inside per-pod files, scoped to what each pod mounts.
func (s *scraper) renderSecretNames(ctx context.Context) string {
	secrets, err := s.client.CoreV1().Secrets(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		s.warn(fmt.Sprintf("listing secrets: %v", err))
		return fmt.Sprintf("Could not retrieve secrets: %v\n", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Secrets in namespace %s (%d)\n\n", s.namespace, len(secrets.Items))
	for _, sec := range secrets.Items {
		fmt.Fprintf(&b, "%-50s %s\n", sec.Name, sec.Type)
	}
	return b.String()
}

func section(b *strings.Builder, name string) {
	fmt.Fprintf(b, "\n=== %s ===\n", name)
}

func (s *scraper) podFile(ctx context.Context, workDir string, pod *corev1.Pod, tag string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Pod: %s/%s\nCollected: %s\n", pod.Namespace, pod.Name, time.Now().Format(time.RFC3339))

	s.progress("pod:"+tag, pod.Name+" - status")
	section(&b, "POD STATUS")
	b.WriteString(renderPodStatus(pod))

	s.progress("pod:"+tag, pod.Name+" - describe")
	section(&b, "POD DESCRIBE")
	if describe, err := json.MarshalIndent(pod, "", "  "); err != nil {
		s.warn(fmt.Sprintf("%s: encoding pod: %v", pod.Name, err))
		fmt.Fprintf(&b, "Could not retrieve pod description: %v\n", err)
	} else {
		b.Write(describe)
		b.WriteString("\n")
	}

	s.progress("pod:"+tag, pod.Name+" - env vars")
	section(&b, "ENVIRONMENT VARIABLES")
	if len(pod.Spec.Containers) == 0 {
		b.WriteString("Could not retrieve environment: pod has no containers\n")
	} else if env, err := s.execEnv(ctx, pod.Name, pod.Spec.Containers[0].Name); err != nil {
		s.warn(fmt.Sprintf("%s: exec env: %v", pod.Name, err))
		fmt.Fprintf(&b, "Could not retrieve environment: %v\n", err)
	} else {
		b.WriteString(env)
	}

	s.progress("pod:"+tag, pod.Name+" - secrets")
	section(&b, "MOUNTED SECRETS")
	s.renderMountedSecrets(ctx, &b, pod)

	s.progress("pod:"+tag, pod.Name+" - configmaps")
	section(&b, "MOUNTED CONFIGMAPS")
	s.renderMountedConfigMaps(ctx, &b, pod)

	s.progress("pod:"+tag, pod.Name+" - logs")
	section(&b, "LOGS (CURRENT)")
	s.renderLogs(ctx, &b, pod, false)
	if podRestarted(pod) {
		section(&b, "LOGS (PREVIOUS)")
		s.renderLogs(ctx, &b, pod, true)
	}

	path := filepath.Join(workDir, pod.Name+".txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func renderPodStatus(pod *corev1.Pod) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase:    %s\nNode:     %s\nPod IP:   %s\n", pod.Status.Phase, pod.Spec.NodeName, pod.Status.PodIP)
	if pod.Status.StartTime != nil {
		fmt.Fprintf(&b, "Started:  %s\n", pod.Status.StartTime.Format(time.RFC3339))
	}
	b.WriteString("Containers:\n")
	for _, cs := range pod.Status.ContainerStatuses {
		fmt.Fprintf(&b, "  %-30s ready=%-5t restarts=%-3d image=%s\n", cs.Name, cs.Ready, cs.RestartCount, cs.Image)
	}
	return b.String()
}

func podRestarted(pod *corev1.Pod) bool {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.RestartCount > 0 {
			return true
		}
	}
	return false
}

// renderMountedSecrets resolves each secret volume through the API and
// includes its contents. The archive is an operator diagnostic; secret
// values are deliberately included.
func (s *scraper) renderMountedSecrets(ctx context.Context, b *strings.Builder, pod *corev1.Pod) {
	found := false
	for _, vol := range pod.Spec.Volumes {
		if vol.Secret == nil {
			continue
		}
		found = true
		fmt.Fprintf(b, "Secret volume %q (secret %s):\n", vol.Name, vol.Secret.SecretName)
		secret, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, vol.Secret.SecretName, metav1.GetOptions{})
		if err != nil {
			s.warn(fmt.Sprintf("%s: secret %s: %v", pod.Name, vol.Secret.SecretName, err))
			fmt.Fprintf(b, "  Could not retrieve secret: %v\n", err)
			continue
		}
		for _, key := range sortedKeys(secret.Data) {
			fmt.Fprintf(b, "  %s=%s\n", key, secret.Data[key])
		}
	}
	if !found {
		b.WriteString("No secret volumes mounted.\n")
	}
}

func (s *scraper) renderMountedConfigMaps(ctx context.Context, b *strings.Builder, pod *corev1.Pod) {
	found := false
	for _, vol := range pod.Spec.Volumes {
		if vol.ConfigMap == nil {
			continue
		}
		found = true
		fmt.Fprintf(b, "ConfigMap volume %q (configmap %s):\n", vol.Name, vol.ConfigMap.Name)
		cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, vol.ConfigMap.Name, metav1.GetOptions{})
		if err != nil {
			s.warn(fmt.Sprintf("%s: configmap %s: %v", pod.Name, vol.ConfigMap.Name, err))
			fmt.Fprintf(b, "  Could not retrieve configmap: %v\n", err)
			continue
		}
		for key, value := range cm.Data {
			fmt.Fprintf(b, "  %s=%s\n", key, value)
		}
	}
	if !found {
		b.WriteString("No configmap volumes mounted.\n")
	}
}

func (s *scraper) renderLogs(ctx context.Context, b *strings.Builder, pod *corev1.Pod, previous bool) {
	for _, container := range pod.Spec.Containers {
		fmt.Fprintf(b, "--- container %s ---\n", container.Name)
		opts := &corev1.PodLogOptions{Container: container.Name, Previous: previous}
		if s.since != nil && !previous {
			opts.SinceTime = &metav1.Time{Time: *s.since}
		} else {
			tail := logTailLines
			opts.TailLines = &tail
		}
		stream, err := s.client.CoreV1().Pods(s.namespace).GetLogs(pod.Name, opts).Stream(ctx)
		if err != nil {
			s.warn(fmt.Sprintf("%s/%s: logs: %v", pod.Name, container.Name, err))
			fmt.Fprintf(b, "Could not retrieve logs: %v\n", err)
			continue
		}
		if _, err := io.Copy(b, stream); err != nil {
			fmt.Fprintf(b, "\nCould not retrieve logs: stream interrupted: %v\n", err)
		}
		stream.Close()
		b.WriteString("\n")
	}
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// execEnv runs `env` in the container over SPDY, the same transport
// kubectl exec uses.
func execEnv(ctx context.Context, restCfg *rest.Config, client kubernetes.Interface, namespace, pod, container string) (string, error) {
	req := client.CoreV1().RESTClient().Post().
		Resource("pods").Namespace(namespace).Name(pod).SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   []string{"env"},
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(restCfg, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("building executor: %w", err)
	}
	var stdout, stderr bytes.Buffer
	if err := executor.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: &stdout, Stderr: &stderr}); err != nil {
		return "", fmt.Errorf("exec env: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
