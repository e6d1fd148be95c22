package usecase

import (
	"context"
	"fmt"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/repository"
)

// FindOneShortLink reads one link of an owner.
type FindOneShortLink struct {
	repo repository.ShortLinkRepository
}

func NewFindOneShortLink(d Deps) *FindOneShortLink {
	return &FindOneShortLink{repo: d.Repo}
}

// Execute returns the link or an errx.NotFound error.
func (uc *FindOneShortLink) Execute(ctx context.Context, sel model.Selector) (*model.ShortLink, error) {
	link, err := uc.repo.FindOneBy(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("find short link: %w", err)
	}
	return link, nil
}

// FindAllShortLinks pages through an owner's links, newest first.
type FindAllShortLinks struct {
	repo repository.ShortLinkRepository
}

func NewFindAllShortLinks(d Deps) *FindAllShortLinks {
	return &FindAllShortLinks{repo: d.Repo}
}

func (uc *FindAllShortLinks) Execute(ctx context.Context, in model.FindAllInput) (*model.ShortLinkPage, error) {
	page, err := uc.repo.FindAll(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("list short links: %w", err)
	}
	return page, nil
}
