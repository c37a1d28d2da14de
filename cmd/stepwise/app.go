package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/internal/config"
	"github.com/ShayCichocki/stepwise/internal/events"
	"github.com/ShayCichocki/stepwise/internal/exec"
	"github.com/ShayCichocki/stepwise/internal/learning"
	"github.com/ShayCichocki/stepwise/internal/orchestrator"
	"github.com/ShayCichocki/stepwise/internal/planner"
	"github.com/ShayCichocki/stepwise/internal/state"
	"github.com/ShayCichocki/stepwise/internal/verification"
)

// app holds everything one command invocation needs.
type app struct {
	workspace string
	cfg       *config.Config
	db        *state.DB
	outcomes  *learning.OutcomeStore
	registry  *capability.Registry
	orch      *orchestrator.Orchestrator
	logger    *orchestrator.DebugLogger
	nats      *events.NATSSink
}

type appOptions struct {
	// needOracle builds the planning oracle; commands that only read or
	// execute stored plans skip it so they work without credentials.
	needOracle bool
	sinks      []orchestrator.EventSink
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFromPath(flagConfig)
	}
	return config.Load()
}

// openStore opens and migrates the workspace database without building an orchestrator.
func openStore(cfg *config.Config) (*state.DB, error) {
	db, err := state.Open(cfg.DatabasePath(flagWorkspace))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{workspace: flagWorkspace, cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if a.db, err = openStore(cfg); err != nil {
		return nil, err
	}

	a.outcomes, err = learning.NewOutcomeStore(learning.WorkspaceDBPath(a.workspace))
	if err != nil {
		return nil, fmt.Errorf("open outcome store: %w", err)
	}
	if err := a.outcomes.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate outcome store: %w", err)
	}

	a.registry, err = loadCapabilities(a.workspace, cfg.Capabilities.File)
	if err != nil {
		return nil, err
	}

	var oracle planner.Oracle = planner.OracleFunc(func(context.Context, string, []capability.Descriptor) (*planner.Proposal, error) {
		return nil, errors.New("no planning oracle configured for this command")
	})
	if opts.needOracle {
		if oracle, err = buildOracle(ctx, cfg, a.workspace); err != nil {
			return nil, err
		}
	}

	policies := verification.NewRegistry()
	if path := cfg.Verification.PoliciesFile; path != "" {
		if policies, err = verification.LoadPolicies(resolvePath(a.workspace, path)); err != nil {
			return nil, fmt.Errorf("load verification policies: %w", err)
		}
	}

	sinks := append([]orchestrator.EventSink(nil), opts.sinks...)
	if cfg.Events.Log {
		sinks = append(sinks, orchestrator.LogSink{})
	}
	if cfg.Events.NATSURL != "" {
		a.nats, err = events.DialNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		sinks = append(sinks, a.nats)
	}

	a.logger = orchestrator.NopLogger()
	if flagDebug {
		a.logger = orchestrator.NewDebugLoggerForWorkspace(a.workspace)
	}

	a.orch = orchestrator.New(
		orchestrator.RequiredConfig{Store: a.db, Registry: a.registry, Oracle: oracle},
		orchestrator.WithPolicy(cfg.Policy()),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithTrustStore(a.db),
		orchestrator.WithPolicies(policies),
		orchestrator.WithSinks(sinks...),
		orchestrator.WithOutcomeRecorder(a.outcomes),
		orchestrator.WithTemplateSource(a.outcomes),
		orchestrator.WithCandidates(cfg.Candidates()...),
	)

	ok = true
	return a, nil
}

// Close flushes events and releases the stores.
func (a *app) Close() {
	if a.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.orch.Close(ctx); err != nil {
			log.Printf("[stepwise] WARNING: flush events: %v", err)
		}
		cancel()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.outcomes != nil {
		a.outcomes.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

// loadCapabilities registers the command capabilities of the manifest. A
// missing manifest yields an empty registry.
func loadCapabilities(workspace, file string) (*capability.Registry, error) {
	reg := capability.NewRegistry()
	if file == "" {
		return reg, nil
	}
	m, err := exec.LoadManifest(resolvePath(workspace, file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return reg, nil
		}
		return nil, err
	}
	if err := m.Register(reg, exec.NewRunner()); err != nil {
		return nil, err
	}
	return reg, nil
}

func buildOracle(ctx context.Context, cfg *config.Config, workspace string) (planner.Oracle, error) {
	switch cfg.Planner.Kind {
	case "file":
		if cfg.Planner.PlanFile == "" {
			return nil, errors.New("planner.kind is file but planner.plan_file is not set")
		}
		return &planner.FileOracle{Path: resolvePath(workspace, cfg.Planner.PlanFile)}, nil
	case "anthropic", "":
		key, err := cfg.ResolveAPIKey()
		if err != nil {
			return nil, fmt.Errorf("%w (set ANTHROPIC_API_KEY, anthropic.api_key, or planner.use_bedrock)", err)
		}
		return planner.NewAnthropicOracle(ctx, planner.AnthropicConfig{
			Model:      cfg.Planner.Model,
			APIKey:     key.Value,
			UseBedrock: cfg.Planner.UseBedrock,
			AWSRegion:  cfg.Planner.AWSRegion,
			AWSProfile: cfg.Planner.AWSProfile,
			MaxTokens:  cfg.Planner.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown planner.kind %q: must be anthropic or file", cfg.Planner.Kind)
	}
}

func resolvePath(workspace, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}

// recoverInterrupted marks runs left running by a dead process as paused so
// they can be resumed.
func recoverInterrupted(db *state.DB) {
	rm := state.NewRecoveryManager(db)
	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		log.Printf("[stepwise] WARNING: check interrupted runs: %v", err)
		return
	}
	for _, ir := range interrupted {
		if ir.Plan == nil {
			if err := rm.Clean(ir.Run.RunID); err != nil {
				log.Printf("[stepwise] WARNING: clean run %s: %v", ir.Run.RunID, err)
			}
			continue
		}
		if err := rm.MarkPaused(ir.Run.RunID); err != nil {
			log.Printf("[stepwise] WARNING: pause run %s: %v", ir.Run.RunID, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "Run %s of plan %s was interrupted after %d steps; resume it with 'stepwise resume %s'\n",
			ir.Run.RunID, ir.Plan.PlanID, ir.StepsRecorded, ir.Run.RunID)
	}
}
