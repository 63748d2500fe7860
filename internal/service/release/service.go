package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/google/uuid"

	"github.com/skyhook-dev/skyhook/internal/docker"
	"github.com/skyhook-dev/skyhook/internal/domain"
	"github.com/skyhook-dev/skyhook/internal/repository"
	"github.com/skyhook-dev/skyhook/internal/service/notify"
	"github.com/skyhook-dev/skyhook/internal/service/secrets"
	"github.com/skyhook-dev/skyhook/internal/trace"
	"github.com/skyhook-dev/skyhook/pkg/config"
)

// ErrValidation marks malformed input rejected before any side effect.
var ErrValidation = errors.New("release: invalid input")

// Runtime is the container-runtime surface the orchestrator needs. Satisfied
// by *docker.Client.
type Runtime interface {
	LoadImage(ctx context.Context, bundlePath string, onProgress docker.LoadProgressCallback) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	StartWorkload(ctx context.Context, spec docker.WorkloadSpec) (string, error)
	WaitHealthy(ctx context.Context, containerID string) error
	FindByName(ctx context.Context, name string) (*types.Container, error)
	ListByLabel(ctx context.Context, key, value string) ([]types.Container, error)
	Logs(ctx context.Context, name string) (<-chan docker.LogEntry, <-chan error, error)
	Remove(ctx context.Context, name string) error
}

// Service drives releases through their state machine and coordinates the
// container runtime, the store and the progress traces.
type Service struct {
	store    repository.Store
	runtime  Runtime
	secrets  secrets.Service
	notifier *notify.Notifier
	logger   *slog.Logger
	cfg      config.Config
}

// New constructs the orchestrator.
func New(store repository.Store, runtime Runtime, secretSvc secrets.Service, notifier *notify.Notifier, logger *slog.Logger, cfg config.Config) Service {
	initMetrics()
	return Service{
		store:    store,
		runtime:  runtime,
		secrets:  secretSvc,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// StartInput carries a release start request.
type StartInput struct {
	ReleaseName   string            `json:"releaseName"`
	ProjectID     string            `json:"projectId"`
	Channel       string            `json:"channel"`
	TarLocation   string            `json:"tarLocation"`
	RuntimeConfig json.RawMessage   `json:"runtimeConfig,omitempty"`
	Port          string            `json:"port,omitempty"`
	Protocol      string            `json:"protocol,omitempty"`
	Image         string            `json:"image"`
	Volumes       []string          `json:"volumes,omitempty"`
	ServiceName   string            `json:"serviceName,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
}

// StartResult is returned as soon as the release row and its volumes are
// persisted; the deploy itself continues in the background under the trace.
type StartResult struct {
	TraceID   string `json:"traceId"`
	ReleaseID string `json:"releaseId"`
	FinalURL  string `json:"finalUrl"`
}

// StartRelease validates and persists a release, then kicks off the container
// deploy in the background. The caller's ctx covers only the synchronous
// portion: aborting the request does not abort the deploy, whose outcome
// stays observable through the trace.
func (s Service) StartRelease(ctx context.Context, input StartInput) (StartResult, error) {
	if err := s.validateStart(&input); err != nil {
		return StartResult{}, err
	}

	project, err := s.store.GetProjectByID(ctx, input.ProjectID)
	if err != nil {
		return StartResult{}, err
	}

	// Organization name participates in naming only; a broken ownership
	// chain must not fail the request.
	orgName, err := s.store.GetOrganizationName(ctx, input.ProjectID)
	if err != nil || strings.TrimSpace(orgName) == "" {
		orgName = "unknown"
	}
	prefix := DomainPrefix(project.Name, input.Channel, orgName, input.ReleaseName, input.ServiceName)

	opts, err := parseRuntimeOptions(input.RuntimeConfig)
	if err != nil {
		return StartResult{}, err
	}
	health := mergeHealthCheck(opts.Healthcheck, input.Port)

	now := time.Now().UTC()
	rel := &domain.Release{
		ID:            uuid.NewString(),
		ProjectID:     input.ProjectID,
		Name:          input.ReleaseName,
		Channel:       input.Channel,
		Status:        domain.StatusInProgress,
		Image:         input.Image,
		TarLocation:   input.TarLocation,
		DomainPrefix:  prefix,
		Port:          input.Port,
		Protocol:      input.Protocol,
		RuntimeConfig: input.RuntimeConfig,
		ServiceName:   input.ServiceName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// Persist before any container work so a crash mid-deploy leaves an
	// inspectable row.
	if err := s.store.CreateRelease(ctx, rel); err != nil {
		return StartResult{}, err
	}

	binds, err := s.upsertVolumes(ctx, rel, input.Volumes)
	if err != nil {
		return StartResult{}, err
	}

	env, err := s.channelEnv(ctx, input.ProjectID, input.Channel, input.Environment)
	if err != nil {
		return StartResult{}, err
	}

	traceID := uuid.NewString()
	writer, err := trace.NewWriter(s.cfg.TraceFile(traceID))
	if err != nil {
		return StartResult{}, err
	}

	spec := docker.WorkloadSpec{
		Name:        prefix,
		Image:       input.Image,
		Env:         env,
		Binds:       binds,
		Labels:      s.workloadLabels(rel),
		MemoryBytes: memoryLimitBytes(input.Image),
		Port:        input.Port,
		Health:      health,
	}
	go s.deploy(rel, spec, writer)

	s.logger.Info("release accepted",
		"release_id", rel.ID, "project_id", rel.ProjectID,
		"channel", rel.Channel, "domain_prefix", prefix, "trace_id", traceID)

	return StartResult{
		TraceID:   traceID,
		ReleaseID: rel.ID,
		FinalURL:  fmt.Sprintf("https://%s.%s", prefix, s.cfg.BaseDomain),
	}, nil
}

// deploy runs the background portion: image import, container start, health
// wait and the final state transition. Failures are reflected in the trace
// and the release row, never thrown back to the original caller.
func (s Service) deploy(rel *domain.Release, spec docker.WorkloadSpec, writer *trace.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeployTimeout)
	defer cancel()
	started := time.Now()

	fail := func(stage string, err error) {
		s.logger.Error("deploy failed", "release_id", rel.ID, "stage", stage, "error", err)
		// The deploy ctx may already be expired; the status write gets its own.
		updateCtx, updateCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer updateCancel()
		if updateErr := s.store.UpdateReleaseStatus(updateCtx, rel.ID, domain.StatusCompleted, domain.ConclusionFailure, ""); updateErr != nil {
			s.logger.Error("release status update failed", "release_id", rel.ID, "error", updateErr)
		}
		_ = writer.End(fmt.Errorf("%s: %v", stage, err))
		releaseOutcomes.WithLabelValues(domain.ConclusionFailure).Inc()
		deployDuration.Observe(time.Since(started).Seconds())
	}

	if rel.TarLocation != "" {
		_ = writer.Progress("importing image bundle")
		if err := s.runtime.LoadImage(ctx, rel.TarLocation, func(line string) {
			_ = writer.Logs(line)
		}); err != nil {
			fail("image import", err)
			return
		}
	} else {
		// No bundle to import, so the image must already be present.
		present, err := s.runtime.ImageExists(ctx, rel.Image)
		if err != nil {
			fail("image inspect", err)
			return
		}
		if !present {
			fail("image inspect", fmt.Errorf("image %s not found", rel.Image))
			return
		}
	}

	_ = writer.Progress("starting container " + spec.Name)
	containerID, err := s.runtime.StartWorkload(ctx, spec)
	if err != nil {
		fail("container start", err)
		return
	}

	// A container object now exists; the release waits on health.
	if err := s.store.UpdateReleaseStatus(ctx, rel.ID, domain.StatusWaiting, "", ""); err != nil {
		s.logger.Error("release status update failed", "release_id", rel.ID, "error", err)
	}

	_ = writer.Progress("waiting for container health")
	if err := s.runtime.WaitHealthy(ctx, containerID); err != nil {
		fail("health check", err)
		return
	}

	resolved, err := s.runtime.FindByName(ctx, spec.Name)
	if err != nil {
		fail("container resolve", err)
		return
	}
	containerName := spec.Name
	if len(resolved.Names) > 0 {
		containerName = strings.TrimPrefix(resolved.Names[0], "/")
	}

	if err := s.store.UpdateReleaseStatus(ctx, rel.ID, domain.StatusCompleted, domain.ConclusionSuccess, containerName); err != nil {
		fail("finalize", err)
		return
	}
	if err := s.store.SoftDeleteSuperseded(ctx, rel.ProjectID, rel.Channel, rel.Name, rel.ServiceName, rel.ID); err != nil {
		s.logger.Error("supersede failed", "release_id", rel.ID, "error", err)
	}

	_ = writer.End(nil)
	releaseOutcomes.WithLabelValues(domain.ConclusionSuccess).Inc()
	deployDuration.Observe(time.Since(started).Seconds())
	s.logger.Info("release completed", "release_id", rel.ID, "container", containerName)
	s.notifier.Announce(ctx, fmt.Sprintf("release %s deployed to %s (%s)", rel.Name, rel.Channel, rel.DomainPrefix))
}

// RestartTarget identifies releases to redeploy: by name, by channel, or both.
type RestartTarget struct {
	ProjectID string
	Name      string
	Channel   string
}

// RestartResult pairs one redeployed release with its fresh trace.
type RestartResult struct {
	ReleaseID   string `json:"releaseId"`
	ReleaseName string `json:"releaseName"`
	ServiceName string `json:"serviceName,omitempty"`
	TraceID     string `json:"traceId"`
}

// Restart redeploys every live release matching the target, each under a
// fresh trace id. Concurrent restart/delete against the same release are not
// serialized; callers must not overlap them.
func (s Service) Restart(ctx context.Context, target RestartTarget) ([]RestartResult, error) {
	if strings.TrimSpace(target.ProjectID) == "" {
		return nil, fmt.Errorf("%w: projectId required", ErrValidation)
	}
	if strings.TrimSpace(target.Name) == "" && strings.TrimSpace(target.Channel) == "" {
		return nil, fmt.Errorf("%w: name or channel required", ErrValidation)
	}
	matches, err := s.store.ListSuccessfulReleases(ctx, target.ProjectID, target.Channel, target.Name)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, repository.ErrNotFound
	}

	results := make([]RestartResult, 0, len(matches))
	for i := range matches {
		rel := matches[i]
		traceID, err := s.redeploy(ctx, &rel)
		if err != nil {
			return nil, err
		}
		results = append(results, RestartResult{
			ReleaseID:   rel.ID,
			ReleaseName: rel.Name,
			ServiceName: rel.ServiceName,
			TraceID:     traceID,
		})
	}
	s.notifier.Announce(ctx, fmt.Sprintf("restarting %d release(s) for project %s", len(results), target.ProjectID))
	return results, nil
}

// redeploy re-runs the deploy path for an existing release row.
func (s Service) redeploy(ctx context.Context, rel *domain.Release) (string, error) {
	opts, err := parseRuntimeOptions(rel.RuntimeConfig)
	if err != nil {
		return "", err
	}
	env, err := s.channelEnv(ctx, rel.ProjectID, rel.Channel, nil)
	if err != nil {
		return "", err
	}
	volumes, err := s.store.ListReleaseVolumes(ctx, rel.ID)
	if err != nil {
		return "", err
	}
	binds := make([]string, 0, len(volumes))
	for _, v := range volumes {
		binds = append(binds, v.Src+":"+v.Dest)
	}

	if err := s.store.UpdateReleaseStatus(ctx, rel.ID, domain.StatusInProgress, "", ""); err != nil {
		return "", err
	}

	traceID := uuid.NewString()
	writer, err := trace.NewWriter(s.cfg.TraceFile(traceID))
	if err != nil {
		return "", err
	}
	spec := docker.WorkloadSpec{
		Name:        rel.DomainPrefix,
		Image:       rel.Image,
		Env:         env,
		Binds:       binds,
		Labels:      s.workloadLabels(rel),
		MemoryBytes: memoryLimitBytes(rel.Image),
		Port:        rel.Port,
		Health:      mergeHealthCheck(opts.Healthcheck, rel.Port),
	}
	go s.deploy(rel, spec, writer)
	return traceID, nil
}

// DeleteInput identifies the live release to remove.
type DeleteInput struct {
	ProjectID   string
	Channel     string
	Name        string
	ServiceName string
}

// Delete soft-deletes the live release and its volumes in one transaction,
// then removes the container after commit. A missing container fails with
// docker.ErrContainerNotFound before any store mutation. A container removal
// failure after commit is logged for reconciliation, not retried.
func (s Service) Delete(ctx context.Context, input DeleteInput) error {
	var containerName string
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		rel, err := tx.GetLiveRelease(ctx, input.ProjectID, input.Channel, input.Name, input.ServiceName)
		if err != nil {
			return err
		}
		if strings.TrimSpace(rel.ContainerName) == "" {
			return docker.ErrContainerNotFound
		}
		if _, err := s.runtime.FindByName(ctx, rel.ContainerName); err != nil {
			return err
		}
		containerName = rel.ContainerName
		if err := tx.SoftDeleteRelease(ctx, rel.ID); err != nil {
			return err
		}
		return tx.SoftDeleteReleaseVolumes(ctx, rel.ID)
	})
	if err != nil {
		return err
	}

	if err := s.runtime.Remove(ctx, containerName); err != nil {
		// The rows are committed; flag the orphan for a reconciliation sweep.
		s.logger.Warn("container removal failed after delete commit",
			"container", containerName, "reconcile", true, "error", err)
	}
	return nil
}

// RestoreInput identifies the soft-deleted release to re-activate.
type RestoreInput struct {
	ProjectID string
	Channel   string
	Name      string
}

// Restore un-soft-deletes a release and its volumes in one transaction.
func (s Service) Restore(ctx context.Context, input RestoreInput) error {
	return s.store.WithTx(ctx, func(tx repository.Store) error {
		rel, err := tx.GetReleaseAnyState(ctx, input.ProjectID, input.Channel, input.Name)
		if err != nil {
			return err
		}
		if err := tx.RestoreRelease(ctx, rel.ID); err != nil {
			return err
		}
		return tx.RestoreReleaseVolumes(ctx, rel.ID)
	})
}

// RouteReleases returns the live release set for route generation.
func (s Service) RouteReleases(ctx context.Context) ([]domain.Release, error) {
	return s.store.ListLiveReleases(ctx)
}

// Get looks up one release by id, in any state.
func (s Service) Get(ctx context.Context, id string) (*domain.Release, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: release id required", ErrValidation)
	}
	return s.store.GetReleaseByID(ctx, id)
}

// StreamLogs follows a release container's log stream, switching to the
// newest container generation across restarts.
func (s Service) StreamLogs(ctx context.Context, containerName string) (<-chan docker.LogEntry, <-chan error, error) {
	if strings.TrimSpace(containerName) == "" {
		return nil, nil, fmt.Errorf("%w: container name required", ErrValidation)
	}
	return s.runtime.Logs(ctx, containerName)
}

// WorkloadInfo summarizes one orchestrator-managed container.
type WorkloadInfo struct {
	Name      string `json:"name"`
	Image     string `json:"image"`
	State     string `json:"state"`
	Status    string `json:"status"`
	ReleaseID string `json:"releaseId,omitempty"`
}

// Workloads lists the containers this orchestrator manages.
func (s Service) Workloads(ctx context.Context) ([]WorkloadInfo, error) {
	containers, err := s.runtime.ListByLabel(ctx, "skyhook.managed", "true")
	if err != nil {
		return nil, err
	}
	infos := make([]WorkloadInfo, 0, len(containers))
	for i := range containers {
		ct := containers[i]
		name := ""
		if len(ct.Names) > 0 {
			name = strings.TrimPrefix(ct.Names[0], "/")
		}
		infos = append(infos, WorkloadInfo{
			Name:      name,
			Image:     ct.Image,
			State:     ct.State,
			Status:    ct.Status,
			ReleaseID: ct.Labels["skyhook.release"],
		})
	}
	return infos, nil
}

func (s Service) validateStart(input *StartInput) error {
	if strings.TrimSpace(input.ReleaseName) == "" {
		return fmt.Errorf("%w: releaseName required", ErrValidation)
	}
	if strings.TrimSpace(input.ProjectID) == "" {
		return fmt.Errorf("%w: projectId required", ErrValidation)
	}
	if input.Channel != domain.ChannelDev && input.Channel != domain.ChannelPreview {
		return fmt.Errorf("%w: channel must be %q or %q", ErrValidation, domain.ChannelDev, domain.ChannelPreview)
	}
	if strings.TrimSpace(input.Image) == "" {
		return fmt.Errorf("%w: image required", ErrValidation)
	}
	switch input.Protocol {
	case "":
		input.Protocol = "https"
	case "https", "tcp":
	default:
		return fmt.Errorf("%w: protocol must be https or tcp", ErrValidation)
	}
	for _, volume := range input.Volumes {
		if !strings.Contains(volume, ":") {
			return fmt.Errorf("%w: volume %q must be src:dest", ErrValidation, volume)
		}
	}
	return nil
}

// upsertVolumes persists the volume rows and returns the docker bind strings.
func (s Service) upsertVolumes(ctx context.Context, rel *domain.Release, specs []string) ([]string, error) {
	binds := make([]string, 0, len(specs))
	for _, raw := range specs {
		src, dest, _ := strings.Cut(raw, ":")
		name := VolumeName(rel.DomainPrefix, src)
		if err := s.store.UpsertVolume(ctx, &domain.Volume{
			ID:        uuid.NewString(),
			ReleaseID: rel.ID,
			Src:       name,
			Dest:      dest,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
		binds = append(binds, name+":"+dest)
	}
	return binds, nil
}

// channelEnv merges decrypted channel secrets with caller overrides; caller
// values win on collision.
func (s Service) channelEnv(ctx context.Context, projectID, channel string, overrides map[string]string) ([]string, error) {
	env, err := s.secrets.ChannelEnv(ctx, projectID, channel)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides {
		env[k] = v
	}
	merged := make([]string, 0, len(env))
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	return merged, nil
}

func (s Service) workloadLabels(rel *domain.Release) map[string]string {
	return map[string]string{
		"skyhook.release": rel.ID,
		"skyhook.project": rel.ProjectID,
		"skyhook.channel": rel.Channel,
		"skyhook.managed": "true",
	}
}
