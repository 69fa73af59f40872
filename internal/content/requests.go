package content

import "strings"

// The writer accepts semantic fields only. Ids are assigned when a row is
// chained, so the request types below carry everything but the id.

type ArticleRefArticleReq struct {
	RefFrom
	RefsArt  int32  `json:"refs_art"`
	RefsPara *int32 `json:"refs_para"`
}

func (r ArticleRefArticleReq) WithID(id int32) ArticleRefArticle {
	return ArticleRefArticle{
		ArefID:   id,
		FromArt:  r.ArtID,
		FromPara: r.AParaID,
		RefsArt:  r.RefsArt,
		RefsPara: r.RefsPara,
		Comment:  Normalize(r.Comment),
	}
}

type ArticleRefVideoReq struct {
	RefFrom
	VidPK  string `json:"vid_pk"`
	SecReq *int16 `json:"sec_req"`
}

func (r ArticleRefVideoReq) WithID(id int32) ArticleRefVideo {
	return ArticleRefVideo{
		VrefID:  id,
		ArtID:   r.ArtID,
		AParaID: r.AParaID,
		VidPK:   strings.TrimSpace(r.VidPK),
		SecReq:  r.SecReq,
		Comment: Normalize(r.Comment),
	}
}

type ArticleRefImageReq struct {
	RefFrom
	ImgID int32 `json:"img_id"`
}

func (r ArticleRefImageReq) WithID(id int32) ArticleRefImage {
	return ArticleRefImage{
		IrefID:  id,
		ArtID:   r.ArtID,
		AParaID: r.AParaID,
		ImgID:   r.ImgID,
		Comment: Normalize(r.Comment),
	}
}

func (p ImagePair) WithID(id int32) Image {
	p.Alt = Normalize(p.Alt)
	return Image{ImgID: id, ImagePair: p}
}
