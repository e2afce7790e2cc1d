package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"
)

const stashListFormat = "--format=%H%x00%gd%x00%gs%x00%ct"

var (
	stashRefPattern     = regexp.MustCompile(`^stash@\{(\d+)\}$`)
	stashSubjectPattern = regexp.MustCompile(`^(?:WIP on|On) ([^:]+): ?(.*)$`)
)

// ListStashes returns the stash list, newest first.
func (g *Git) ListStashes(ctx context.Context, root string, opts Options) ([]Stash, error) {
	return withTimeout(ctx, "list stashes", opts, func(ctx context.Context) ([]Stash, error) {
		out, err := g.runGit(ctx, root, "stash", "list", stashListFormat)
		if err != nil {
			return nil, err
		}
		return parseStashList(out)
	})
}

// StashFiles lists the files changed by the stash at ref, which may be a
// stash@{n} ref, a bare index, or a stash commit SHA.
func (g *Git) StashFiles(ctx context.Context, root, ref string, opts Options) ([]FileChange, error) {
	ref, err := normalizeStashRef(ref)
	if err != nil {
		return nil, err
	}
	return withTimeout(ctx, "stash files", opts, func(ctx context.Context) ([]FileChange, error) {
		out, err := g.runGit(ctx, root, "stash", "show", "-p", "--no-color", "--no-ext-diff", ref)
		if err != nil {
			return nil, err
		}
		return parseStashPatch(out)
	})
}

func (g *Git) runGit(ctx context.Context, root string, args ...string) (string, error) {
	full := append([]string{"-C", root}, args...)
	cmd := exec.CommandContext(ctx, g.gitBinary, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.log.WithField("args", strings.Join(args, " ")).Debug("Running git")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && isMissingRef(msg) {
			return "", fmt.Errorf("git %s: %s: %w", args[0], msg, ErrNotFound)
		}
		if msg != "" {
			return "", fmt.Errorf("git %s failed: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("git %s failed: %w", args[0], err)
	}
	return stdout.String(), nil
}

func isMissingRef(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "is not a valid reference") ||
		strings.Contains(s, "not a stash-like commit") ||
		strings.Contains(s, "unknown revision") ||
		strings.Contains(s, "only has") ||
		strings.Contains(s, "no stash entries") ||
		strings.Contains(s, "not a git repository")
}

// normalizeStashRef accepts "stash@{n}", "n" or a hex SHA.
func normalizeStashRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", errors.New("stash ref is required")
	case stashRefPattern.MatchString(ref):
		return ref, nil
	case isDigits(ref):
		return "stash@{" + ref + "}", nil
	case isHex(ref) && len(ref) >= 4:
		return ref, nil
	default:
		return "", fmt.Errorf("invalid stash ref %q", ref)
	}
}

func parseStashList(out string) ([]Stash, error) {
	var stashes []Stash
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\x00")
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected stash list line %q", line)
		}
		m := stashRefPattern.FindStringSubmatch(fields[1])
		if m == nil {
			return nil, fmt.Errorf("unexpected stash ref %q", fields[1])
		}
		index, _ := strconv.Atoi(m[1])
		secs, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected stash time %q: %w", fields[3], err)
		}

		stash := Stash{
			Index:   index,
			Ref:     fields[1],
			SHA:     fields[0],
			Message: fields[2],
			Created: time.Unix(secs, 0).UTC(),
		}
		if sm := stashSubjectPattern.FindStringSubmatch(fields[2]); sm != nil {
			stash.Branch = sm[1]
			stash.Message = sm[2]
		}
		stashes = append(stashes, stash)
	}
	return stashes, nil
}

func parseStashPatch(patch string) ([]FileChange, error) {
	if strings.TrimSpace(patch) == "" {
		return []FileChange{}, nil
	}
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("failed to parse stash patch: %w", err)
	}

	files := make([]FileChange, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		if fd == nil {
			continue
		}
		oldName := diffPath(fd.OrigName)
		newName := diffPath(fd.NewName)

		fc := FileChange{Path: newName, Status: StatusModified}
		switch {
		case oldName == "":
			fc.Status = StatusAdded
		case newName == "":
			fc.Status = StatusDeleted
			fc.Path = oldName
		case oldName != newName:
			fc.Status = StatusRenamed
			fc.OldPath = oldName
		}

		stat := fd.Stat()
		fc.Additions = int(stat.Added + stat.Changed)
		fc.Deletions = int(stat.Deleted + stat.Changed)
		files = append(files, fc)
	}
	return files, nil
}

// diffPath strips the a/ b/ prefixes git adds and maps /dev/null to "".
func diffPath(name string) string {
	name = strings.Trim(strings.TrimSpace(name), `"`)
	if name == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return s != ""
}
