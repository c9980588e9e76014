package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jwstascii-lambda-updater/pkg/logger"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Repo wraps go-git and provides the operations the updater needs: clone the
// site repository over SSH, check out the publishing branch, stage, commit
// and push.
type Repo struct {
	repo   *git.Repository
	dir    string
	branch string
	auth   transport.AuthMethod
	logger *logger.Logger
}

// New creates an empty Repo handle; call SetSSHKeyFromSecrets (when the
// remote needs auth) and Clone before anything else.
func New(log *logger.Logger) *Repo {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &Repo{logger: log}
}

// Dir returns the working tree path of the cloned repository.
func (r *Repo) Dir() string {
	return r.dir
}

// Branch returns the currently checked out branch.
func (r *Repo) Branch() string {
	return r.branch
}

// SetSSHKeyFromSecrets retrieves the deploy key from Secrets Manager, stores
// it at keyPath with owner-only permissions and configures SSH auth for all
// subsequent remote operations. On Lambda, keyPath must live under /tmp.
func (r *Repo) SetSSHKeyFromSecrets(ctx context.Context, secrets SecretFetcher, secretName, keyPath string) error {
	key, err := secrets.GetSecretValue(ctx, secretName)
	if err != nil {
		return fmt.Errorf("unable to retrieve ssh key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(key), 0600); err != nil {
		return fmt.Errorf("failed to write ssh key: %w", err)
	}

	auth, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
	if err != nil {
		return fmt.Errorf("failed to load ssh key: %w", err)
	}
	r.auth = auth

	r.logger.Debug().
		Str("secret", secretName).
		Msg("SSH deploy key configured")

	return nil
}

// Clone clones the repository at url into path and records the checked out
// branch.
func (r *Repo) Clone(ctx context.Context, url, path string) error {
	r.logger.Info().
		Str("url", url).
		Str("path", path).
		Msg("Cloning repository")

	repo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:  url,
		Auth: r.auth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", url, err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	r.repo = repo
	r.dir = path
	r.branch = head.Name().Short()

	return nil
}

// CheckoutBranch checks out the named branch, creating a local branch from
// origin when only the remote ref exists.
func (r *Repo) CheckoutBranch(branch string) error {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	err = worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
	})
	if err != nil {
		// Fall back to the remote-tracking ref for branches the clone
		// did not materialize locally.
		remoteRef, refErr := r.repo.Reference(
			plumbing.NewRemoteReferenceName("origin", branch), true)
		if refErr != nil {
			return fmt.Errorf("failed to checkout branch %s: %w", branch, err)
		}

		err = worktree.Checkout(&git.CheckoutOptions{
			Branch: plumbing.NewBranchReferenceName(branch),
			Hash:   remoteRef.Hash(),
			Create: true,
		})
		if err != nil {
			return fmt.Errorf("failed to checkout branch %s: %w", branch, err)
		}
	}

	r.branch = branch
	return nil
}

// Add stages the given files. With no files, all modified and untracked
// files are staged. Paths listed in ignore are skipped either way.
func (r *Repo) Add(files, ignore []string) error {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	if len(files) == 0 {
		status, err := worktree.Status()
		if err != nil {
			return fmt.Errorf("failed to read worktree status: %w", err)
		}
		for path := range status {
			files = append(files, path)
		}
	}

	skip := make(map[string]bool, len(ignore))
	for _, path := range ignore {
		skip[path] = true
	}

	for _, path := range files {
		if skip[path] {
			continue
		}
		if _, err := worktree.Add(path); err != nil {
			return fmt.Errorf("failed to stage %s: %w", path, err)
		}
	}

	return nil
}

// Commit commits the staged files with the given message and author.
func (r *Repo) Commit(message, author, email string) error {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	r.logger.Info().
		Str("author", author).
		Str("message", message).
		Msg("Committed changes")

	return nil
}

// Push pushes the current branch to origin.
func (r *Repo) Push(ctx context.Context) error {
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       r.auth,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to push: %w", err)
	}

	r.logger.Info().
		Str("branch", r.branch).
		Msg("Pushed changes")

	return nil
}
