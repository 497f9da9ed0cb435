// Package artifact turns one roster name into one stored certificate PDF.
package artifact

import (
	"context"
	"fmt"

	"certline/internal/domain"
	"certline/internal/workspace"
)

// Feedback receives human-readable progress lines. Non-essential to correctness.
type Feedback interface {
	Emit(msg string)
}

// Generator runs the template pipeline against the platform: copy the template,
// substitute the placeholder, export to PDF, store the result.
type Generator struct {
	Client      *workspace.Client
	TemplateID  string
	FolderID    string
	Placeholder string
	Feedback    Feedback
}

// Job is one generation request, consumed immediately into a recipient.
type Job struct {
	Name        string
	Replacement string
	DiscardCopy bool
}

// Generate executes the pipeline for one job and returns the stored artifact.
// There is no retry and no rollback: if replacement, export, or storage fails
// after the copy was created, the copy is left behind untrashed.
func (g *Generator) Generate(ctx context.Context, job Job) (domain.Artifact, error) {
	if job.Name == "" {
		return domain.Artifact{}, fmt.Errorf("artifact name is required")
	}
	clone, err := g.Client.CopyFile(ctx, g.TemplateID, g.FolderID, job.Name)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("copy template: %w", err)
	}
	if _, err := g.Client.ReplaceText(ctx, clone.ID, g.Placeholder, job.Replacement); err != nil {
		return domain.Artifact{}, fmt.Errorf("replace placeholder: %w", err)
	}
	pdf, err := g.Client.ExportPDF(ctx, clone.ID)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("export pdf: %w", err)
	}
	stored, err := g.Client.CreateFile(ctx, g.FolderID, job.Name+".pdf", "application/pdf", pdf)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("store pdf: %w", err)
	}
	if job.DiscardCopy {
		if err := g.Client.TrashFile(ctx, clone.ID); err != nil {
			return domain.Artifact{}, fmt.Errorf("trash copy: %w", err)
		}
	}
	if g.Feedback != nil {
		g.Feedback.Emit(fmt.Sprintf("created %s", stored.Name))
	}
	return domain.Artifact{ID: stored.ID, Name: stored.Name, Link: stored.Link}, nil
}
