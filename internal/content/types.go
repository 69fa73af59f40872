package content

import (
	"fmt"

	"github.com/xtchd/xtchd/internal/hash"
)

const (
	TableAuthors           = "authors"
	TableArticles          = "articles"
	TableArticleParagraphs = "article_paragraphs"
	TableYoutubeChannels   = "youtube_channels"
	TableYoutubeVideos     = "youtube_videos"
	TableImages            = "images"
	TableArticleRefArticle = "article_ref_articles"
	TableArticleRefVideo   = "article_ref_videos"
	TableArticleRefImage   = "article_ref_images"
)

func init() {
	register(&Class{
		DType: "Author", Table: TableAuthors, IDColumn: "auth_id",
		Columns: []Column{{Name: "auth_id", Type: Integer}, {Name: "name", Type: Text}},
		decode:  decodeAs[Author],
	})
	register(&Class{
		DType: "Article", Table: TableArticles, IDColumn: "art_id",
		Columns: []Column{{Name: "art_id", Type: Integer}, {Name: "auth_id", Type: Integer}, {Name: "title", Type: Text}},
		decode:  decodeAs[Article],
	})
	register(&Class{
		DType: "ArticlePara", Table: TableArticleParagraphs, IDColumn: "apara_id",
		Columns: []Column{{Name: "apara_id", Type: Integer}, {Name: "art_id", Type: Integer}, {Name: "md", Type: Text}},
		decode:  decodeAs[ArticlePara],
	})
	register(&Class{
		DType: "YoutubeChannel", Table: TableYoutubeChannels, IDColumn: "chan_id",
		Columns: []Column{{Name: "chan_id", Type: Integer}, {Name: "name", Type: Text}, {Name: "url", Type: Text}},
		decode:  decodeAs[YoutubeChannel],
	})
	register(&Class{
		DType: "YoutubeVideo", Table: TableYoutubeVideos, IDColumn: "vid_id",
		Columns: []Column{
			{Name: "vid_id", Type: Integer},
			{Name: "vid_pk", Type: Text},
			{Name: "chan_id", Type: Integer},
			{Name: "title", Type: Text},
			{Name: "date_uploaded", Type: DateColumn, Unhashed: true},
		},
		decode: decodeAs[YoutubeVideo],
	})
	register(&Class{
		DType: "Image", Table: TableImages, IDColumn: "img_id",
		Columns: []Column{
			{Name: "img_id", Type: Integer},
			{Name: "src_full", Type: Text},
			{Name: "src_thmb", Type: Text},
			{Name: "alt", Type: Text},
			{Name: "url", Type: Text, Nullable: true},
			{Name: "archive", Type: Text, Nullable: true},
		},
		decode: decodeAs[Image],
	})
	register(&Class{
		DType: "ArticleRefArticle", Table: TableArticleRefArticle, IDColumn: "aref_id",
		Columns: []Column{
			{Name: "aref_id", Type: Integer},
			{Name: "from_art", Type: Integer},
			{Name: "from_para", Type: Integer, Nullable: true},
			{Name: "refs_art", Type: Integer},
			{Name: "refs_para", Type: Integer, Nullable: true},
			{Name: "comment", Type: Text},
		},
		decode: decodeAs[ArticleRefArticle],
	})
	register(&Class{
		DType: "ArticleRefVideo", Table: TableArticleRefVideo, IDColumn: "vref_id",
		Columns: []Column{
			{Name: "vref_id", Type: Integer},
			{Name: "art_id", Type: Integer},
			{Name: "apara_id", Type: Integer, Nullable: true},
			{Name: "vid_pk", Type: Text},
			{Name: "sec_req", Type: SmallInt, Nullable: true},
			{Name: "comment", Type: Text},
		},
		decode: decodeAs[ArticleRefVideo],
	})
	register(&Class{
		DType: "ArticleRefImage", Table: TableArticleRefImage, IDColumn: "iref_id",
		Columns: []Column{
			{Name: "iref_id", Type: Integer},
			{Name: "art_id", Type: Integer},
			{Name: "apara_id", Type: Integer, Nullable: true},
			{Name: "img_id", Type: Integer},
			{Name: "comment", Type: Text},
		},
		decode: decodeAs[ArticleRefImage],
	})
}

func optional[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

type Author struct {
	AuthID int32  `json:"auth_id"`
	Name   string `json:"name"`
}

func (a Author) StateString() string {
	return fmt.Sprintf("auth_id=%d name=%s", a.AuthID, a.Name)
}

func (Author) DType() string  { return "Author" }
func (Author) Table() string  { return TableAuthors }
func (a Author) RowID() int32 { return a.AuthID }
func (a Author) Values() []any {
	return []any{a.AuthID, a.Name}
}

type Article struct {
	ArtID  int32  `json:"art_id"`
	AuthID int32  `json:"auth_id"`
	Title  string `json:"title"`
}

func (a Article) StateString() string {
	return fmt.Sprintf("art_id=%d auth_id=%d title=%s", a.ArtID, a.AuthID, a.Title)
}

func (Article) DType() string  { return "Article" }
func (Article) Table() string  { return TableArticles }
func (a Article) RowID() int32 { return a.ArtID }
func (a Article) Values() []any {
	return []any{a.ArtID, a.AuthID, a.Title}
}

// ArticlePara is one markdown paragraph of an article.
type ArticlePara struct {
	AParaID int32  `json:"apara_id"`
	ArtID   int32  `json:"art_id"`
	MD      string `json:"md"`
}

func (p ArticlePara) StateString() string {
	return fmt.Sprintf("apara_id=%d art_id=%d md=%s", p.AParaID, p.ArtID, p.MD)
}

func (ArticlePara) DType() string  { return "ArticlePara" }
func (ArticlePara) Table() string  { return TableArticleParagraphs }
func (p ArticlePara) RowID() int32 { return p.AParaID }
func (p ArticlePara) Values() []any {
	return []any{p.AParaID, p.ArtID, p.MD}
}

type YoutubeChannel struct {
	ChanID int32  `json:"chan_id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
}

func (c YoutubeChannel) StateString() string {
	return fmt.Sprintf("chan_id=%d name=%s url=%s", c.ChanID, c.Name, c.URL)
}

func (YoutubeChannel) DType() string  { return "YoutubeChannel" }
func (YoutubeChannel) Table() string  { return TableYoutubeChannels }
func (c YoutubeChannel) RowID() int32 { return c.ChanID }
func (c YoutubeChannel) Values() []any {
	return []any{c.ChanID, c.Name, c.URL}
}

// YoutubeVideo records a video. DateUploaded is stored but is not part of
// the state string.
type YoutubeVideo struct {
	VidID        int32  `json:"vid_id"`
	VidPK        string `json:"vid_pk"`
	ChanID       int32  `json:"chan_id"`
	Title        string `json:"title"`
	DateUploaded Date   `json:"date_uploaded"`
}

func (v YoutubeVideo) StateString() string {
	return fmt.Sprintf("vid_id=%d vid_pk=%s chan_id=%d title=%s", v.VidID, v.VidPK, v.ChanID, v.Title)
}

func (YoutubeVideo) DType() string  { return "YoutubeVideo" }
func (YoutubeVideo) Table() string  { return TableYoutubeVideos }
func (v YoutubeVideo) RowID() int32 { return v.VidID }
func (v YoutubeVideo) Values() []any {
	return []any{v.VidID, v.VidPK, v.ChanID, v.Title, v.DateUploaded.String()}
}

// ImagePair is a full image and its thumbnail, both base64 data URIs.
type ImagePair struct {
	SrcFull string  `json:"src_full"`
	SrcThmb string  `json:"src_thmb"`
	Alt     string  `json:"alt"`
	URL     *string `json:"url"`
	// Archive is an optional archive.is key.
	Archive *string `json:"archive"`
}

// Image is an immutable image referenced from articles.
type Image struct {
	ImgID int32 `json:"img_id"`
	ImagePair
}

func (i Image) StateString() string {
	return fmt.Sprintf("img_id=%d src_full=%s src_thmb=%s alt=%s url=%s archive=%s",
		i.ImgID, i.SrcFull, i.SrcThmb, i.Alt, hash.NoneFmt(i.URL), hash.NoneFmt(i.Archive))
}

func (Image) DType() string  { return "Image" }
func (Image) Table() string  { return TableImages }
func (i Image) RowID() int32 { return i.ImgID }
func (i Image) Values() []any {
	return []any{i.ImgID, i.SrcFull, i.SrcThmb, i.Alt, optional(i.URL), optional(i.Archive)}
}

// RefFrom is the article (and optionally paragraph) a reference is made
// from, with a comment on what the reference shows.
type RefFrom struct {
	ArtID   int32  `json:"art_id"`
	AParaID *int32 `json:"apara_id"`
	Comment string `json:"comment"`
}

type ArticleRefArticle struct {
	ArefID   int32  `json:"aref_id"`
	FromArt  int32  `json:"from_art"`
	FromPara *int32 `json:"from_para"`
	RefsArt  int32  `json:"refs_art"`
	RefsPara *int32 `json:"refs_para"`
	Comment  string `json:"comment"`
}

func (r ArticleRefArticle) StateString() string {
	return fmt.Sprintf("aref_id=%d from_art=%d from_para=%s refs_art=%d refs_para=%s comment=%s",
		r.ArefID, r.FromArt, hash.NoneFmt(r.FromPara), r.RefsArt, hash.NoneFmt(r.RefsPara), r.Comment)
}

func (ArticleRefArticle) DType() string  { return "ArticleRefArticle" }
func (ArticleRefArticle) Table() string  { return TableArticleRefArticle }
func (r ArticleRefArticle) RowID() int32 { return r.ArefID }
func (r ArticleRefArticle) Values() []any {
	return []any{r.ArefID, r.FromArt, optional(r.FromPara), r.RefsArt, optional(r.RefsPara), r.Comment}
}

type ArticleRefVideo struct {
	VrefID  int32  `json:"vref_id"`
	ArtID   int32  `json:"art_id"`
	AParaID *int32 `json:"apara_id"`
	VidPK   string `json:"vid_pk"`
	// SecReq is an optional offset into the video, in seconds.
	SecReq  *int16 `json:"sec_req"`
	Comment string `json:"comment"`
}

func (r ArticleRefVideo) StateString() string {
	return fmt.Sprintf("vref_id=%d art_id=%d apara_id=%s vid_pk=%s sec_req=%s comment=%s",
		r.VrefID, r.ArtID, hash.NoneFmt(r.AParaID), r.VidPK, hash.NoneFmt(r.SecReq), r.Comment)
}

func (ArticleRefVideo) DType() string  { return "ArticleRefVideo" }
func (ArticleRefVideo) Table() string  { return TableArticleRefVideo }
func (r ArticleRefVideo) RowID() int32 { return r.VrefID }
func (r ArticleRefVideo) Values() []any {
	return []any{r.VrefID, r.ArtID, optional(r.AParaID), r.VidPK, optional(r.SecReq), r.Comment}
}

type ArticleRefImage struct {
	IrefID  int32  `json:"iref_id"`
	ArtID   int32  `json:"art_id"`
	AParaID *int32 `json:"apara_id"`
	ImgID   int32  `json:"img_id"`
	Comment string `json:"comment"`
}

func (r ArticleRefImage) StateString() string {
	return fmt.Sprintf("iref_id=%d art_id=%d apara_id=%s img_id=%d comment=%s",
		r.IrefID, r.ArtID, hash.NoneFmt(r.AParaID), r.ImgID, r.Comment)
}

func (ArticleRefImage) DType() string  { return "ArticleRefImage" }
func (ArticleRefImage) Table() string  { return TableArticleRefImage }
func (r ArticleRefImage) RowID() int32 { return r.IrefID }
func (r ArticleRefImage) Values() []any {
	return []any{r.IrefID, r.ArtID, optional(r.AParaID), r.ImgID, r.Comment}
}
