package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// RegisterRequest records a manually located wine list on an entity.
type RegisterRequest struct {
	Entity   string `validate:"required"`
	URL      string `validate:"required,url,startswith=http"`
	Download bool
}

var registerValidator = validator.New()

// RegisterWineList stores req.URL as the entity's artifact. With Download set
// the artifact is fetched, stored and extracted through the workflow, and the
// resulting entity reports DOWNLOAD_FAILED if that fails.
func (a *App) RegisterWineList(ctx context.Context, req RegisterRequest) (crawler.Entity, error) {
	req.Entity = strings.TrimSpace(req.Entity)
	req.URL = strings.TrimSpace(req.URL)
	if err := registerValidator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag())
			}
			return crawler.Entity{}, fmt.Errorf("invalid register request: %s", strings.Join(fields, "; "))
		}
		return crawler.Entity{}, fmt.Errorf("validate register request: %w", err)
	}

	entity, err := a.jobs.FindEntity(ctx, req.Entity)
	if err != nil {
		return crawler.Entity{}, err
	}
	logger := a.logger.With(zap.String("entity_id", entity.ID), zap.String("url", req.URL))

	if !req.Download {
		now := a.clock.Now()
		entity.ArtifactURL = req.URL
		entity.CrawlStatus = crawler.CrawlStatusArtifactFound
		entity.UpdatedAt = now
		if err := a.store.UpsertEntity(ctx, entity); err != nil {
			return crawler.Entity{}, fmt.Errorf("save entity %s: %w", entity.ID, err)
		}
		logger.Info("wine list registered")
		return entity, nil
	}

	// Enter the workflow at DOWNLOAD with the fallback already spent so a
	// failed download is recorded instead of searched around.
	resume := crawler.StageState{
		Stage:    crawler.StageDownload,
		EntityID: entity.ID,
		Scratch: crawler.Scratch{
			HasSite:           entity.SiteURL != "",
			FallbackAttempted: true,
			Candidate:         &crawler.Candidate{URL: req.URL, Tier: crawler.TierManual, Validated: true},
		},
	}
	task := crawler.EntityTask{
		JobID:  "manual",
		Ref:    crawler.EntityRef{ID: entity.ID, SourceURL: entity.SourceURL},
		Resume: &resume,
		Force:  true,
	}
	result, err := a.engine.Run(ctx, task, func(context.Context, crawler.StageState) error { return nil })
	if err != nil {
		return crawler.Entity{}, fmt.Errorf("register wine list for %s: %w", entity.ID, err)
	}
	if result.Err != nil {
		return crawler.Entity{}, fmt.Errorf("register wine list for %s: %w", entity.ID, result.Err)
	}
	saved, err := a.store.GetEntity(ctx, entity.ID)
	if err != nil {
		return crawler.Entity{}, fmt.Errorf("reload entity %s: %w", entity.ID, err)
	}
	logger.Info("wine list registered and downloaded", zap.String("status", string(saved.CrawlStatus)))
	return saved, nil
}
