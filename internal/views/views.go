// Package views assembles the composite reads served to readers. Every row
// a view returns has had its hash recomputed; a row that fails surfaces as
// an integrity error rather than as content.
package views

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/verify"
)

// HeadlineLimit is the number of articles Headlines returns.
const HeadlineLimit = 12

// Reader is the read side of a chain store.
type Reader interface {
	Row(ctx context.Context, table string, id int32) (chain.Envelope[content.Record], error)
	RowsWhere(ctx context.Context, table, column string, value any) ([]chain.Envelope[content.Record], error)
	Latest(ctx context.Context, table string, limit int) ([]chain.Envelope[content.Record], error)
}

type NameID struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

// AuthorDetail is one author and the titles of their articles.
type AuthorDetail struct {
	Author   chain.Envelope[content.Author] `json:"author"`
	Articles []NameID                       `json:"articles"`
}

// ArticleDetail is one article with its author and paragraphs in order.
type ArticleDetail struct {
	Author     chain.Envelope[content.Author]        `json:"author"`
	Article    chain.Envelope[content.Article]       `json:"article"`
	Paragraphs []chain.Envelope[content.ArticlePara] `json:"paragraphs"`
}

type Views struct {
	reader Reader
	logger *slog.Logger
}

func New(reader Reader, logger *slog.Logger) *Views {
	if logger == nil {
		logger = slog.Default()
	}
	return &Views{reader: reader, logger: logger}
}

// checked verifies env and narrows it to T.
func checked[T content.Record](v *Views, env chain.Envelope[content.Record]) (chain.Envelope[T], error) {
	if err := verify.VerifyRow(env); err != nil {
		v.logger.Error("TAMPERING DETECTED: row failed verification on read",
			"table", env.Table(), "id", env.ID(), "error", err)
		return chain.Envelope[T]{}, err
	}
	out, err := chain.As[T](env)
	if err != nil {
		return chain.Envelope[T]{}, chain.NewIntegrityError(env.Table(), env.ID(), chain.ReasonMalformed, "", err.Error())
	}
	return out, nil
}

func row[T content.Record](ctx context.Context, v *Views, table string, id int32) (chain.Envelope[T], error) {
	env, err := v.reader.Row(ctx, table, id)
	if err != nil {
		return chain.Envelope[T]{}, err
	}
	return checked[T](v, env)
}

func rows[T content.Record](v *Views, envs []chain.Envelope[content.Record]) ([]chain.Envelope[T], error) {
	out := make([]chain.Envelope[T], 0, len(envs))
	for _, env := range envs {
		e, err := checked[T](v, env)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (v *Views) AuthorDetail(ctx context.Context, authID int32) (*AuthorDetail, error) {
	author, err := row[content.Author](ctx, v, content.TableAuthors, authID)
	if err != nil {
		return nil, fmt.Errorf("author %d: %w", authID, err)
	}

	envs, err := v.reader.RowsWhere(ctx, content.TableArticles, "auth_id", authID)
	if err != nil {
		return nil, fmt.Errorf("articles of author %d: %w", authID, err)
	}
	articles, err := rows[content.Article](v, envs)
	if err != nil {
		return nil, fmt.Errorf("articles of author %d: %w", authID, err)
	}

	detail := &AuthorDetail{Author: author, Articles: make([]NameID, len(articles))}
	for i, a := range articles {
		detail.Articles[i] = NameID{ID: a.Content.ArtID, Name: a.Content.Title}
	}
	return detail, nil
}

func (v *Views) ArticleDetail(ctx context.Context, artID int32) (*ArticleDetail, error) {
	article, err := row[content.Article](ctx, v, content.TableArticles, artID)
	if err != nil {
		return nil, fmt.Errorf("article %d: %w", artID, err)
	}

	author, err := row[content.Author](ctx, v, content.TableAuthors, article.Content.AuthID)
	if err != nil {
		return nil, fmt.Errorf("author of article %d: %w", artID, err)
	}

	envs, err := v.reader.RowsWhere(ctx, content.TableArticleParagraphs, "art_id", artID)
	if err != nil {
		return nil, fmt.Errorf("paragraphs of article %d: %w", artID, err)
	}
	paras, err := rows[content.ArticlePara](v, envs)
	if err != nil {
		return nil, fmt.Errorf("paragraphs of article %d: %w", artID, err)
	}

	return &ArticleDetail{Author: author, Article: article, Paragraphs: paras}, nil
}

// Headlines returns the most recent articles, newest first.
func (v *Views) Headlines(ctx context.Context) ([]chain.Envelope[content.Article], error) {
	envs, err := v.reader.Latest(ctx, content.TableArticles, HeadlineLimit)
	if err != nil {
		return nil, fmt.Errorf("headlines: %w", err)
	}
	articles, err := rows[content.Article](v, envs)
	if err != nil {
		return nil, fmt.Errorf("headlines: %w", err)
	}
	return articles, nil
}
