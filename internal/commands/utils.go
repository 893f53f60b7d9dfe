package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"branchsync/internal/config"
	errs "branchsync/internal/errors"
	"branchsync/internal/git"
	"branchsync/internal/logger"
	"branchsync/internal/prompt"
	"branchsync/internal/push"
)

// gitCommandTimeout bounds read-only git queries made while resolving the environment.
const gitCommandTimeout = 30 * time.Second

// stateDirName is the directory inside the git common dir holding the lock,
// breadcrumbs and log file.
const stateDirName = "branchsync"

// env holds what a command needs to work on the repository.
type env struct {
	cfg      *config.Config
	client   *git.CLI
	log      *logger.Logger
	root     string
	stateDir string
	remote   string
}

// loadEnv resolves the repository from --dir, loads its configuration and
// opens the log file.
func loadEnv(cmd *cobra.Command) (*env, error) {
	dir, _ := cmd.Flags().GetString("dir")
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, cancel := context.WithTimeout(commandContext(cmd), gitCommandTimeout)
	defer cancel()

	root, err := git.NewCLI(dir, git.WithoutInspector()).TopLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotARepository, dir)
	}
	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	client := git.NewCLI(root, git.WithRemote(cfg.Git.Remote), git.WithConflictCheck(cfg.Sync.ConflictCheck))
	commonDir, err := client.CommonDir(ctx)
	if err != nil {
		return nil, err
	}
	stateDir := filepath.Join(commonDir, stateDirName)

	logFile := config.ResolvePath(cfg, cfg.Log.File, filepath.Join(stateDir, "branchsync.log"))
	log, err := logger.New(logFile, verbose, cmd.OutOrStdout())
	if err != nil {
		return nil, err
	}
	log.Info("command started", "command", cmd.CommandPath(), "version", versionString(), "repo", root)

	return &env{
		cfg:      cfg,
		client:   client,
		log:      log.With("command", cmd.Name()),
		root:     root,
		stateDir: stateDir,
		remote:   client.Remote(),
	}, nil
}

// close flushes and closes the log file.
func (e *env) close() {
	_ = e.log.Close()
}

// lockPath returns the sync lock path.
func (e *env) lockPath() string {
	return config.ResolvePath(e.cfg, e.cfg.Sync.LockPath, filepath.Join(e.stateDir, "sync.lock"))
}

// target resolves the target branch: --target, then git.trunk_branch, then
// main or master.
func (e *env) target(cmd *cobra.Command) (string, error) {
	flag, _ := cmd.Flags().GetString("target")
	return resolveTarget(commandContext(cmd), e.client, e.cfg, flag)
}

func resolveTarget(ctx context.Context, client git.Client, cfg *config.Config, flag string) (string, error) {
	local, err := client.ListLocalBranches(ctx)
	if err != nil {
		return "", err
	}
	remote, err := client.ListRemoteBranches(ctx)
	if err != nil {
		return "", err
	}
	exists := func(name string) bool {
		for _, refs := range [][]git.Ref{local, remote} {
			for _, r := range refs {
				if r.Name == name {
					return true
				}
			}
		}
		return false
	}

	if flag != "" {
		if !exists(flag) {
			return "", fmt.Errorf("target branch '%s' not found", flag)
		}
		return flag, nil
	}
	if cfg != nil && cfg.Git != nil && cfg.Git.TrunkBranch != "" {
		if !exists(cfg.Git.TrunkBranch) {
			return "", fmt.Errorf("trunk branch '%s' not found: verify the branch name in `git.trunk_branch` configuration", cfg.Git.TrunkBranch)
		}
		return cfg.Git.TrunkBranch, nil
	}
	for _, name := range []string{"main", "master"} {
		if exists(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("trunk branch not found: neither 'main' nor 'master' exists. Set `git.trunk_branch` in %s or pass --target", config.FileName)
}

// protectionLookup returns a branch-protection probe backed by the GitHub
// API, or nil when no token is configured or the remote is not on GitHub.
func (e *env) protectionLookup(ctx context.Context) push.ProtectionFunc {
	token := config.GitHubToken(e.cfg)
	if token == "" {
		return nil
	}
	url, err := e.client.RemoteURL(ctx, e.remote)
	if err != nil {
		return nil
	}
	owner, repo, err := git.ParseGitHubOwnerRepo(url)
	if err != nil {
		e.log.Debug("remote is not a GitHub repository", "url", url)
		return nil
	}
	baseURL := e.cfg.GitHub.BaseURL
	return func(ctx context.Context, branch string) (bool, error) {
		client, err := git.NewClient(ctx, token, baseURL)
		if err != nil {
			return false, err
		}
		p, err := git.GetBranchProtection(ctx, client, owner, repo, branch)
		if err != nil {
			return false, err
		}
		return p.Protected, nil
	}
}

// newConfirmer returns the confirmation provider for cmd. --yes answers
// every question with yes.
func newConfirmer(cmd *cobra.Command, yes bool) prompt.Confirmer {
	if yes {
		return prompt.AlwaysYes
	}
	if in, ok := cmd.InOrStdin().(*os.File); ok {
		return prompt.New(in, cmd.OutOrStdout())
	}
	return &prompt.Line{Reader: cmd.InOrStdin(), Writer: cmd.OutOrStdout()}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// outf writes progress to out; errors are ignored (best-effort user output).
func outf(out io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(out, format, args...)
}

// outln writes a line to out; errors are ignored (best-effort user output).
func outln(out io.Writer, args ...interface{}) {
	_, _ = fmt.Fprintln(out, args...)
}

// printCommands prints a titled, indented command list.
func printCommands(out io.Writer, title string, commands []string) {
	if len(commands) == 0 {
		return
	}
	outln(out, title)
	for _, c := range commands {
		outf(out, "  %s\n", c)
	}
}
