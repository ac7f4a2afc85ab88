package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/tidyflow/internal/artifact"
	"github.com/kiranshivaraju/tidyflow/internal/dataset"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// Local runs stages in-process against the artifact store.
//
// Each stage writes its output under a fixed key, so re-running a stage
// whose output already exists returns the existing ref without redoing
// the work.
type Local struct {
	artifacts artifact.Store
	suggester models.SuggestionProvider
}

var _ Engine = (*Local)(nil)

func NewLocal(artifacts artifact.Store, suggester models.SuggestionProvider) *Local {
	return &Local{artifacts: artifacts, suggester: suggester}
}

func (e *Local) Name() string { return "local" }

func (e *Local) RunStage(ctx context.Context, req Request) (Result, error) {
	switch req.Stage {
	case models.StageProfiling:
		return e.profile(ctx, req)
	case models.StageSuggesting:
		return e.suggest(ctx, req)
	case models.StageApplying:
		return e.apply(ctx, req)
	default:
		return Result{}, fmt.Errorf("%w: unknown stage %q", ErrStageRejected, req.Stage)
	}
}

func (e *Local) profile(ctx context.Context, req Request) (Result, error) {
	key := artifact.Key(req.JobID, artifact.NameProfile)
	if ok, err := e.artifacts.Exists(ctx, key); err != nil {
		return Result{}, err
	} else if ok {
		return Result{Ref: key, Summary: "profile already computed"}, nil
	}

	tbl, err := e.loadTable(ctx, req.InputRef)
	if err != nil {
		return Result{}, err
	}
	profile := dataset.Profile(tbl)

	if err := e.putJSON(ctx, key, profile); err != nil {
		return Result{}, err
	}
	return Result{
		Ref: key,
		Summary: fmt.Sprintf("%d rows, %d columns, %d malformed rows",
			profile.RowCount, profile.ColumnCount, len(profile.MalformedRows)),
	}, nil
}

func (e *Local) suggest(ctx context.Context, req Request) (Result, error) {
	key := artifact.Key(req.JobID, artifact.NameSuggestions)
	if ok, err := e.artifacts.Exists(ctx, key); err != nil {
		return Result{}, err
	} else if ok {
		return Result{Ref: key, Summary: "suggestions already computed"}, nil
	}

	var profile models.Profile
	if err := e.getJSON(ctx, req.ProfileRef, &profile); err != nil {
		return Result{}, err
	}

	suggestions, err := e.suggester.Suggest(ctx, profile)
	if err != nil {
		return Result{}, fmt.Errorf("%s suggester: %w", e.suggester.Name(), err)
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}

	if err := e.putJSON(ctx, key, suggestions); err != nil {
		return Result{}, err
	}
	return Result{Ref: key, Summary: fmt.Sprintf("%d cleaning steps proposed", len(suggestions))}, nil
}

func (e *Local) apply(ctx context.Context, req Request) (Result, error) {
	outKey := artifact.Key(req.JobID, artifact.NameCleaned)
	reportKey := artifact.Key(req.JobID, artifact.NameReport)

	outExists, err := e.artifacts.Exists(ctx, outKey)
	if err != nil {
		return Result{}, err
	}
	reportExists, err := e.artifacts.Exists(ctx, reportKey)
	if err != nil {
		return Result{}, err
	}
	if outExists && reportExists {
		return Result{Ref: outKey, ReportRef: reportKey, Summary: "output already written"}, nil
	}

	tbl, err := e.loadTable(ctx, req.InputRef)
	if err != nil {
		return Result{}, err
	}

	var suggestions []models.Suggestion
	if err := e.getJSON(ctx, req.SuggestionsRef, &suggestions); err != nil {
		return Result{}, err
	}

	var before *models.Profile
	if req.ProfileRef != "" {
		var p models.Profile
		if err := e.getJSON(ctx, req.ProfileRef, &p); err != nil {
			slog.Warn("profile unavailable for report", "job_id", req.JobID, "error", err)
		} else {
			before = &p
		}
	}
	if before == nil {
		before = dataset.Profile(tbl)
	}

	corrections := dataset.Apply(tbl, suggestions)

	cleaned, err := tbl.WriteCSV()
	if err != nil {
		return Result{}, fmt.Errorf("render cleaned csv: %w", err)
	}
	report := dataset.RenderReport(dataset.ReportInput{
		JobID:            req.JobID.String(),
		OriginalFilename: req.OriginalFilename,
		Before:           before,
		Suggestions:      suggestions,
		Corrections:      corrections,
		RowsOut:          len(tbl.Rows),
		ColumnsOut:       len(tbl.Header),
	})

	if !outExists {
		if err := e.put(ctx, outKey, cleaned); err != nil {
			return Result{}, err
		}
	}
	if !reportExists {
		if err := e.put(ctx, reportKey, []byte(report)); err != nil {
			return Result{}, err
		}
	}
	return Result{
		Ref:       outKey,
		ReportRef: reportKey,
		Summary:   fmt.Sprintf("%d corrections, %d rows written", len(corrections), len(tbl.Rows)),
	}, nil
}

func (e *Local) loadTable(ctx context.Context, ref string) (*dataset.Table, error) {
	data, err := e.artifacts.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load input: %w", err)
	}
	tbl, err := dataset.ParseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStageRejected, err)
	}
	return tbl, nil
}

func (e *Local) getJSON(ctx context.Context, ref string, v any) error {
	if ref == "" {
		return fmt.Errorf("%w: missing prior stage output", ErrStageRejected)
	}
	data, err := e.artifacts.Get(ctx, ref)
	if err != nil {
		return fmt.Errorf("load %s: %w", ref, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrStageRejected, ref, err)
	}
	return nil
}

func (e *Local) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return e.put(ctx, key, data)
}

// put refuses to write once ctx is done, so an abandoned stage leaves no
// new artifacts behind. A concurrent writer winning the race is fine.
func (e *Local) put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.artifacts.Put(ctx, key, data); err != nil && !errors.Is(err, artifact.ErrExists) {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}
