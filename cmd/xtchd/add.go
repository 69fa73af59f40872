package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/writer"
)

func newAddCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Chain a new row onto a content table",
	}
	cmd.AddCommand(
		newAddAuthorCmd(opts),
		newAddArticleCmd(opts),
		newAddParaCmd(opts),
		newAddChannelCmd(opts),
		newAddVideoCmd(opts),
		newAddImageCmd(opts),
		newAddRefArticleCmd(opts),
		newAddRefVideoCmd(opts),
		newAddRefImageCmd(opts),
	)
	return cmd
}

// withWriter runs fn against a started writer and prints the row it chained.
func withWriter(cmd *cobra.Command, opts *options, fn func(ctx context.Context, w *writer.Writer) (any, error)) error {
	ctx := cmd.Context()
	a, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.writer(ctx)
	if err != nil {
		return err
	}
	defer w.Stop()

	env, err := fn(ctx, w)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

func parseID(name, s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return int32(n), nil
}

// optionalID reads an optional id flag; a negative value means absent.
func optionalID(v int) *int32 {
	if v < 0 {
		return nil
	}
	id := int32(v)
	return &id
}

func optionalString(cmd *cobra.Command, flag, v string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}

func newAddAuthorCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "author <name>",
		Short: "Add an author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddAuthor(ctx, args[0])
			})
		},
	}
}

func newAddArticleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "article <auth_id> <title>",
		Short: "Add an article",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			authID, err := parseID("auth_id", args[0])
			if err != nil {
				return err
			}
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddArticle(ctx, authID, args[1])
			})
		},
	}
}

func newAddParaCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "para <art_id> <markdown|->",
		Short: "Add a paragraph to an article; '-' reads the markdown from stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			artID, err := parseID("art_id", args[0])
			if err != nil {
				return err
			}
			md := args[1]
			if md == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				md = string(data)
			}
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddArticlePara(ctx, artID, md)
			})
		},
	}
}

func newAddChannelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "channel <url> <name>",
		Short: "Add a YouTube channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddYoutubeChannel(ctx, args[0], args[1])
			})
		},
	}
}

func newAddVideoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "video <chan_id> <vid_pk> <title> <YYYY-MM-DD>",
		Short: "Add a YouTube video",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			chanID, err := parseID("chan_id", args[0])
			if err != nil {
				return err
			}
			uploaded, err := content.ParseDate(args[3])
			if err != nil {
				return err
			}
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddYoutubeVideo(ctx, chanID, args[1], args[2], uploaded)
			})
		},
	}
}

func newAddImageCmd(opts *options) *cobra.Command {
	var full, thumb, alt, url, archive string
	cmd := &cobra.Command{
		Use:   "image --full <file|data-uri> --thumb <file|data-uri>",
		Short: "Add an image pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := dataURI(full)
			if err != nil {
				return err
			}
			thm, err := dataURI(thumb)
			if err != nil {
				return err
			}
			pair := content.ImagePair{
				SrcFull: src,
				SrcThmb: thm,
				Alt:     alt,
				URL:     optionalString(cmd, "url", url),
				Archive: optionalString(cmd, "archive", archive),
			}
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddImage(ctx, pair)
			})
		},
	}
	cmd.Flags().StringVar(&full, "full", "", "full size image file or data URI")
	cmd.Flags().StringVar(&thumb, "thumb", "", "thumbnail file or data URI")
	cmd.Flags().StringVar(&alt, "alt", "", "alt text")
	cmd.Flags().StringVar(&url, "url", "", "source URL")
	cmd.Flags().StringVar(&archive, "archive", "", "archive URL")
	cmd.MarkFlagRequired("full")
	cmd.MarkFlagRequired("thumb")
	return cmd
}

func newAddRefArticleCmd(opts *options) *cobra.Command {
	var (
		fromPara, refsPara int
		comment            string
	)
	cmd := &cobra.Command{
		Use:   "ref-article <from_art> <refs_art>",
		Short: "Add a reference from one article to another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromArt, err := parseID("from_art", args[0])
			if err != nil {
				return err
			}
			refsArt, err := parseID("refs_art", args[1])
			if err != nil {
				return err
			}
			req := content.ArticleRefArticleReq{
				RefFrom:  content.RefFrom{ArtID: fromArt, AParaID: optionalID(fromPara), Comment: comment},
				RefsArt:  refsArt,
				RefsPara: optionalID(refsPara),
			}
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddArticleRefArticle(ctx, req)
			})
		},
	}
	cmd.Flags().IntVar(&fromPara, "from-para", -1, "referencing paragraph id")
	cmd.Flags().IntVar(&refsPara, "refs-para", -1, "referenced paragraph id")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	return cmd
}

func newAddRefVideoCmd(opts *options) *cobra.Command {
	var (
		para, sec int
		comment   string
	)
	cmd := &cobra.Command{
		Use:   "ref-video <art_id> <vid_pk>",
		Short: "Add a reference from an article to a video",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			artID, err := parseID("art_id", args[0])
			if err != nil {
				return err
			}
			req := content.ArticleRefVideoReq{
				RefFrom: content.RefFrom{ArtID: artID, AParaID: optionalID(para), Comment: comment},
				VidPK:   args[1],
			}
			if sec >= 0 {
				s := int16(sec)
				req.SecReq = &s
			}
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddArticleRefVideo(ctx, req)
			})
		},
	}
	cmd.Flags().IntVar(&para, "para", -1, "referencing paragraph id")
	cmd.Flags().IntVar(&sec, "sec", -1, "start offset in seconds")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	return cmd
}

func newAddRefImageCmd(opts *options) *cobra.Command {
	var (
		para    int
		comment string
	)
	cmd := &cobra.Command{
		Use:   "ref-image <art_id> <img_id>",
		Short: "Add a reference from an article to an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			artID, err := parseID("art_id", args[0])
			if err != nil {
				return err
			}
			imgID, err := parseID("img_id", args[1])
			if err != nil {
				return err
			}
			req := content.ArticleRefImageReq{
				RefFrom: content.RefFrom{ArtID: artID, AParaID: optionalID(para), Comment: comment},
				ImgID:   imgID,
			}
			return withWriter(cmd, opts, func(ctx context.Context, w *writer.Writer) (any, error) {
				return w.AddArticleRefImage(ctx, req)
			})
		},
	}
	cmd.Flags().IntVar(&para, "para", -1, "referencing paragraph id")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	return cmd
}

// dataURI returns s unchanged when it already is a data URI, otherwise
// reads the file s names and encodes it.
func dataURI(s string) (string, error) {
	if strings.HasPrefix(s, "data:") {
		return s, nil
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
