// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
)

// Stage is one step of a patch operation.
type Stage uint8

// Patch stages in execution order.
const (
	StageListing Stage = iota
	StageLocating
	StagePlanning
	StageConverting
	StageWriting
	StageDone
	StageFailed
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageListing:
		return "listing"
	case StageLocating:
		return "locating"
	case StagePlanning:
		return "planning"
	case StageConverting:
		return "converting"
	case StageWriting:
		return "writing"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// StageError reports the stage a patch failed in.
type StageError struct {
	Err   error
	Stage Stage
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("patch %s: %v", e.Stage, e.Err)
}

// Unwrap returns the originating error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Patcher injects DRM blobs and store metadata into IPA archives.
type Patcher struct {
	tool ArchiveTool
	opts PatchOptions
}

// NewPatcher creates a patcher backed by tool.
func NewPatcher(tool ArchiveTool, opts PatchOptions) *Patcher {
	opts.applyDefaults()

	return &Patcher{tool: tool, opts: opts}
}

// patchRun carries per-call state through the stages.
type patchRun struct {
	ctx     context.Context
	archive *Archive
	logger  log.Interface
	result  *PatchResult
	req     Request
	paths   []string
	bundle  BundleContext
	items   []InjectionItem
	stage   Stage
}

// Patch runs Listing, Locating, Planning, Converting and Writing against archivePath.
//
// The archive is written at most once, as one batch, and not at all when the plan is
// empty. Any failure is returned as *StageError wrapping the originating error.
func (p *Patcher) Patch(ctx context.Context, archivePath string, req Request) (*PatchResult, error) {
	startedAt := time.Now()

	logger := p.opts.Logger.WithField("archive", archivePath)

	archive, err := OpenArchive(archivePath, p.tool, p.opts.Archive)
	if err != nil {
		return nil, &StageError{Stage: StageListing, Err: err}
	}

	run := &patchRun{
		ctx:     ctx,
		archive: archive,
		logger:  logger,
		req:     req,
		result:  &PatchResult{},
	}

	steps := []struct {
		fn    func() error
		stage Stage
	}{
		{stage: StageListing, fn: run.list},
		{stage: StageLocating, fn: run.locate},
		{stage: StagePlanning, fn: run.plan},
		{stage: StageConverting, fn: run.convert},
		{stage: StageWriting, fn: func() error { return run.write(p.opts.Verify) }},
	}

	for _, step := range steps {
		if err := run.enter(step.stage); err != nil {
			return nil, run.fail(err)
		}

		if err := step.fn(); err != nil {
			return nil, run.fail(err)
		}
	}

	run.stage = StageDone
	run.result.Duration = time.Since(startedAt)

	logger.WithFields(log.Fields{
		"bundle":     run.result.Bundle,
		"resolution": run.result.Resolution.String(),
		"items":      len(run.result.Items),
		"written":    run.result.Written,
		"duration":   run.result.Duration,
	}).Info("patch complete")

	return run.result, nil
}

// enter checks the context and records the stage transition.
func (r *patchRun) enter(stage Stage) error {
	r.stage = stage
	if err := r.ctx.Err(); err != nil {
		return err
	}

	r.logger.WithField("stage", stage.String()).Debug("enter stage")

	return nil
}

// fail moves the run to Failed and wraps err with the stage it happened in.
func (r *patchRun) fail(err error) error {
	failed := r.stage
	r.stage = StageFailed

	r.logger.WithError(err).WithField("stage", failed.String()).Debug("patch failed")

	return &StageError{Stage: failed, Err: err}
}

func (r *patchRun) list() error {
	paths, err := r.archive.ListEntries(r.ctx)
	if err != nil {
		return err
	}

	r.paths = paths
	r.logger.WithField("entries", len(paths)).Debug("listed archive")

	return nil
}

func (r *patchRun) locate() error {
	bundle, err := Locate(r.ctx, r.paths, r.archive)
	if err != nil {
		return err
	}

	r.bundle = bundle
	r.result.Bundle = bundle.Name
	r.result.Resolution = bundle.Resolution.Kind()

	r.logger.WithFields(log.Fields{
		"bundle":     bundle.Name,
		"resolution": bundle.Resolution.Kind().String(),
	}).Debug("located bundle")

	return nil
}

func (r *patchRun) plan() error {
	r.items = PlanDRM(r.bundle, r.req.Sinfs)

	r.logger.WithFields(log.Fields{
		"sinfs": len(r.req.Sinfs),
		"items": len(r.items),
	}).Debug("planned drm items")

	return nil
}

// convert appends the metadata item. Conversion failure keeps the raw bytes.
func (r *patchRun) convert() error {
	if r.req.Metadata == nil {
		return nil
	}

	data, converted := ConvertMetadata(r.req.Metadata)
	if !converted {
		r.logger.Debug("metadata kept verbatim")
	}

	r.result.MetadataConverted = converted
	r.items = append(r.items, InjectionItem{Path: MetadataEntryPath, Data: data})

	return nil
}

func (r *patchRun) write(verify bool) error {
	if len(r.items) == 0 {
		r.result.Items = []string{}
		r.logger.Debug("empty plan, archive left untouched")
		return nil
	}

	batch, err := collapseItems(r.items)
	if err != nil {
		return err
	}

	r.result.Items = make([]string, 0, len(batch))
	for _, item := range batch {
		r.result.Items = append(r.result.Items, item.Path)
	}

	if err := r.archive.WriteEntries(r.ctx, batch); err != nil {
		return err
	}

	r.result.Written = true

	if verify {
		return r.verify(batch)
	}

	return nil
}

// verify re-reads every written entry by its archive path.
func (r *patchRun) verify(batch []InjectionItem) error {
	for _, item := range batch {
		got, err := r.archive.ReadEntry(r.ctx, item.Path)
		if err != nil {
			return fmt.Errorf("verify %s: %w", item.Path, err)
		}

		if !bytes.Equal(got, item.Data) {
			return fmt.Errorf("%w: %s", ErrVerifyMismatch, item.Path)
		}
	}

	r.logger.WithField("entries", len(batch)).Debug("verified entries")

	return nil
}
