// Package sandboxdriver is a narrow adapter over the local container
// engine's control socket: create/start/stop/remove, exec, inspect, and
// volume create, with retries and crash-recovery adoption semantics.
//
// It is a generalisation of the teacher's internal/container.Manager,
// which bundled container lifecycle and docker-exec-over-pty into one
// type; here those become separate primitives so the Supervisor can
// compose them per spec.
package sandboxdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/agentserver/agentserver/internal/apperr"
)

const (
	LabelUser    = "com.claude-code.user"
	LabelManaged = "com.claude-code.managed"
)

// Spec fully describes a sandbox container; every field is decided by the
// Supervisor before Create is called.
type Spec struct {
	Name        string
	Image       string
	Env         []string
	Binds       []string // "host:container:mode"
	UserID      string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	NetworkMode string
}

// Status is the engine-reported state of a container, normalised to the
// vocabulary the Supervisor understands.
type Status struct {
	Running bool
	Exists  bool
	State   string // docker's raw state string, for logging
}

// ExecOptions parametrises Driver.Exec.
type ExecOptions struct {
	Cwd   string
	Env   []string
	Stdin bool
	TTY   bool
}

// Stream is a duplex exec stream: Write sends stdin, Read receives
// combined/stdout (demultiplexed when TTY is false), Resize adjusts the
// PTY when TTY is true, Close tears the stream down.
type Stream struct {
	reader io.Reader
	writer io.WriteCloser
	close  func() error
	resize func(rows, cols uint16) error
	done   chan struct{}

	// ExitCode is set once the exec has finished and Done has closed. Nil
	// until then.
	ExitCode *int
}

func (s *Stream) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.writer.Write(p) }
func (s *Stream) Resize(rows, cols uint16) error {
	if s.resize == nil {
		return errors.New("sandboxdriver: resize not supported on this stream")
	}
	return s.resize(rows, cols)
}
func (s *Stream) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}
func (s *Stream) Done() <-chan struct{} { return s.done }

// Driver wraps the Docker Engine API client.
type Driver struct {
	cfg Config
	cli *client.Client
}

func New(cfg Config) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperr.New(apperr.KindConfig, "sandboxdriver.New", fmt.Errorf("docker client: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, apperr.New(apperr.KindProvisioning, "sandboxdriver.New", fmt.Errorf("engine unreachable: %w", err))
	}
	return &Driver{cfg: cfg, cli: cli}, nil
}

// VolumeCreate creates a named volume bound to hostPath, treating
// "already exists" as success so crash recovery can latch onto it.
func (d *Driver) VolumeCreate(ctx context.Context, name, hostPath string) error {
	err := d.withRetry(ctx, "volume_create", func() error {
		_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
			Name:   name,
			Driver: "local",
			DriverOpts: map[string]string{
				"type":   "none",
				"device": hostPath,
				"o":      "bind",
			},
		})
		return err
	})
	if err != nil && !errdefs.IsConflict(err) {
		return apperr.New(apperr.KindProvisioning, "volume_create", err)
	}
	return nil
}

// Create builds a container from spec, treating a name collision as a
// crash-recovery adoption rather than an error: it inspects the existing
// container and returns its ID.
func (d *Driver) Create(ctx context.Context, spec Spec) (string, error) {
	pidsLimit := spec.PidsLimit
	var engineID string
	err := d.withRetry(ctx, "create", func() error {
		resp, err := d.cli.ContainerCreate(ctx,
			&container.Config{
				Image: spec.Image,
				Env:   spec.Env,
				Labels: map[string]string{
					LabelManaged: "true",
					LabelUser:    spec.UserID,
				},
			},
			&container.HostConfig{
				Binds:       spec.Binds,
				CapDrop:     []string{"ALL"},
				SecurityOpt: []string{"no-new-privileges", "seccomp=" + d.cfg.SeccompProfile},
				NetworkMode: container.NetworkMode(spec.NetworkMode),
				Resources: container.Resources{
					Memory:    spec.MemoryBytes,
					NanoCPUs:  spec.NanoCPUs,
					PidsLimit: &pidsLimit,
				},
			},
			nil, nil, spec.Name,
		)
		if err != nil {
			return err
		}
		engineID = resp.ID
		return nil
	})
	if err == nil {
		return engineID, nil
	}
	if errdefs.IsConflict(err) {
		existing, inspectErr := d.adoptByName(ctx, spec.Name)
		if inspectErr != nil {
			return "", apperr.New(apperr.KindProvisioning, "create", err)
		}
		log.Printf("sandboxdriver: adopting pre-existing container %s for name %s", existing[:12], spec.Name)
		return existing, nil
	}
	return "", apperr.New(apperr.KindProvisioning, "create", err)
}

func (d *Driver) adoptByName(ctx context.Context, name string) (string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil || len(containers) == 0 {
		return "", fmt.Errorf("adopt by name %s: %w", name, err)
	}
	return containers[0].ID, nil
}

// Start starts an existing container. Not-found is NOT coerced here — a
// missing container at start time is a genuine provisioning error.
func (d *Driver) Start(ctx context.Context, engineID string) error {
	err := d.withRetry(ctx, "start", func() error {
		return d.cli.ContainerStart(ctx, engineID, container.StartOptions{})
	})
	if err != nil {
		return apperr.New(apperr.KindProvisioning, "start", err)
	}
	return nil
}

// Stop stops a container with the given grace period. Not-found is
// coerced to success: the target is already gone.
func (d *Driver) Stop(ctx context.Context, engineID string, grace time.Duration) error {
	secs := int(grace.Seconds())
	err := d.withRetry(ctx, "stop", func() error {
		return d.cli.ContainerStop(ctx, engineID, container.StopOptions{Timeout: &secs})
	})
	if err != nil && !client.IsErrNotFound(err) {
		return apperr.New(apperr.KindProvisioning, "stop", err)
	}
	return nil
}

// Remove removes a container, force-killing if still running. Not-found
// is coerced to success.
func (d *Driver) Remove(ctx context.Context, engineID string) error {
	err := d.withRetry(ctx, "remove", func() error {
		return d.cli.ContainerRemove(ctx, engineID, container.RemoveOptions{Force: true})
	})
	if err != nil && !client.IsErrNotFound(err) {
		return apperr.New(apperr.KindProvisioning, "remove", err)
	}
	return nil
}

// Inspect reports whether engineID exists and is running. Not-found is
// reported through Status.Exists rather than as an error, matching the
// spec's "coerced to success" handling for inspect.
func (d *Driver) Inspect(ctx context.Context, engineID string) (Status, error) {
	info, err := d.cli.ContainerInspect(ctx, engineID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Status{Exists: false}, nil
		}
		return Status{}, apperr.New(apperr.KindTransient, "inspect", err)
	}
	st := Status{Exists: true}
	if info.State != nil {
		st.Running = info.State.Running
		st.State = info.State.Status
	}
	return st, nil
}

// ListManaged returns engine IDs of all containers bearing the managed
// label, for start-up reconciliation.
func (d *Driver) ListManaged(ctx context.Context) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, apperr.New(apperr.KindTransient, "list_managed", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Exec runs argv inside engineID and returns a duplex stream. When
// opts.TTY is true the stream supports Resize.
func (d *Driver) Exec(ctx context.Context, engineID string, argv []string, opts ExecOptions) (*Stream, error) {
	execCfg := container.ExecOptions{
		Cmd:          argv,
		Env:          opts.Env,
		WorkingDir:   opts.Cwd,
		AttachStdin:  opts.Stdin,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          opts.TTY,
	}
	created, err := d.cli.ContainerExecCreate(ctx, engineID, execCfg)
	if err != nil {
		return nil, apperr.New(apperr.KindProvisioning, "exec", err)
	}
	attached, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: opts.TTY})
	if err != nil {
		return nil, apperr.New(apperr.KindProvisioning, "exec", err)
	}

	var reader io.Reader = attached.Reader
	if !opts.TTY {
		pr, pw := io.Pipe()
		go func() {
			_, err := stdcopy.StdCopy(pw, pw, attached.Reader)
			pw.CloseWithError(err)
		}()
		reader = pr
	}

	done := make(chan struct{})
	stream := &Stream{
		reader: reader,
		writer: attached.Conn,
		close: func() error {
			attached.Close()
			return nil
		},
		done: done,
	}
	go func() {
		defer close(done)
		for {
			inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
			if err != nil {
				return
			}
			if !inspect.Running {
				code := inspect.ExitCode
				stream.ExitCode = &code
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
		}
	}()

	if opts.TTY {
		execID := created.ID
		stream.resize = func(rows, cols uint16) error {
			return d.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{Height: uint(rows), Width: uint(cols)})
		}
	}
	return stream, nil
}

// Stats takes a one-shot CPU/memory snapshot of a running container, used
// by the Supervisor's metric sampler to populate SandboxMetric (spec.md
// §3). This replaces the teacher's unused shirou/gopsutil/v4 dependency
// for this concern: gopsutil samples host or PID-rooted process trees, but
// a container's cgroup-accounted usage is already exposed directly by the
// engine the Driver is already talking to, with no second library needed.
func (d *Driver) Stats(ctx context.Context, engineID string) (cpuPct float64, memUsed, memLimit int64, err error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, engineID)
	if err != nil {
		return 0, 0, 0, apperr.New(apperr.KindTransient, "stats", err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, 0, 0, apperr.New(apperr.KindTransient, "stats", err)
	}

	return cpuPercent(stats), int64(stats.MemoryStats.Usage), int64(stats.MemoryStats.Limit), nil
}

// cpuPercent reproduces the docker CLI's delta-based CPU percentage
// calculation from a single stats snapshot's paired cpu_stats/precpu_stats.
func cpuPercent(stats container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || sysDelta <= 0 {
		return 0
	}
	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return (cpuDelta / sysDelta) * onlineCPUs * 100.0
}

func (d *Driver) Close() error {
	return d.cli.Close()
}

// withRetry retries transient engine errors (5xx, connection reset) with
// exponential backoff up to the configured ceiling. Non-transient errors
// return immediately.
func (d *Driver) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	backoff := time.Second
	for attempt := 0; attempt <= d.cfg.RetryCeiling; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt == d.cfg.RetryCeiling {
			break
		}
		log.Printf("sandboxdriver: %s transient error (attempt %d/%d): %v", op, attempt+1, d.cfg.RetryCeiling, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errdefs.IsUnavailable(err) || errdefs.IsDeadlineExceeded(err) || errdefs.IsInternal(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
