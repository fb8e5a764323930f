package normalizer

import (
	"review-sync-backend/internal/model"
)

// resolve 按优先级链求条目的初始评分/评语。
//
// PM：可写的 official 优先；否则以 self 作为只读参考；再否则只读的 official。
// 360：当前评价人自己的条目优先；否则在 others 中找第一个带 ratingKey/commentKey
// 的条目（后端以此标记当前评价人可写）。
// 都找不到时返回空记录，权限为 none。
func (b *builder) resolve(self, official *model.RatingComment, others []model.RatingComment) model.EditRecord {
	var rec model.EditRecord

	switch b.kind {
	case model.FormKind360:
		rec = b.resolve360(self, others)
	default:
		rec = b.resolvePM(self, official)
	}

	b.attachReferences(&rec, self, others)
	return rec
}

func (b *builder) resolvePM(self, official *model.RatingComment) model.EditRecord {
	if official != nil && explicitWritable(official) {
		return b.fromEntry(official, model.ProvenanceOfficial)
	}
	if self != nil {
		rec := b.fromEntry(self, model.ProvenanceSelf)
		rec.RatingPermission = model.PermissionRead
		rec.CommentPermission = model.PermissionRead
		return rec
	}
	if official != nil {
		return b.fromEntry(official, model.ProvenanceOfficial)
	}
	return emptyRecord()
}

func (b *builder) resolve360(self *model.RatingComment, others []model.RatingComment) model.EditRecord {
	if self != nil {
		return b.fromEntry(self, model.ProvenanceSelf)
	}
	for i := range others {
		if others[i].Self {
			return b.fromEntry(&others[i], model.ProvenanceSelf)
		}
	}
	// 启发式：后端只会给当前评价人的条目填充 key
	for i := range others {
		if others[i].RatingKey != "" || others[i].CommentKey != "" {
			return b.fromEntry(&others[i], model.ProvenanceOthers)
		}
	}
	return emptyRecord()
}

// fromEntry 从单个评分实体构造 EditRecord，权限规则随表单类型不同
func (b *builder) fromEntry(e *model.RatingComment, prov model.Provenance) model.EditRecord {
	rec := model.EditRecord{
		Rating:           model.NormalizeRating(e.Rating.String()),
		Comment:          e.Comment,
		RatingKey:        e.RatingKey,
		CommentKey:       e.CommentKey,
		RatingProvenance: prov,
		AuthorUserID:     e.UserID,
	}

	if b.kind == model.FormKind360 {
		rec.RatingPermission = inferPermission(e.RatingPermission, e.RatingKey)
		rec.CommentPermission = inferPermission(e.CommentPermission, e.CommentKey)
		if rec.AuthorUserID == "" && prov == model.ProvenanceSelf {
			rec.AuthorUserID = b.actorID
		}
	} else {
		rec.RatingPermission = model.ParsePermission(e.RatingPermission)
		rec.CommentPermission = model.ParsePermission(e.CommentPermission)
		if rec.AuthorUserID == "" && prov == model.ProvenanceSelf {
			rec.AuthorUserID = b.doc.SubjectID()
		}
	}

	rec.OriginalRating = rec.Rating
	rec.OriginalComment = rec.Comment
	return rec
}

// attachReferences 挂上只读参考值：被评价人自评与其他评价人的评分
func (b *builder) attachReferences(rec *model.EditRecord, self *model.RatingComment, others []model.RatingComment) {
	if self != nil {
		rec.SelfRating = model.NormalizeRating(self.Rating.String())
		rec.SelfComment = self.Comment
	}
	for _, o := range others {
		rec.Others = append(rec.Others, model.ReferenceRating{
			UserID:   o.UserID,
			FullName: o.FullName,
			Rating:   model.NormalizeRating(o.Rating.String()),
			Comment:  o.Comment,
		})
	}
}

func emptyRecord() model.EditRecord {
	return model.EditRecord{
		RatingPermission:  model.PermissionNone,
		CommentPermission: model.PermissionNone,
		RatingProvenance:  model.ProvenanceNA,
	}
}

func explicitWritable(e *model.RatingComment) bool {
	return model.ParsePermission(e.RatingPermission) == model.PermissionWrite ||
		model.ParsePermission(e.CommentPermission) == model.PermissionWrite
}

// inferPermission：显式权限优先；否则非空 key 表示可写；有值无 key 为只读
func inferPermission(explicit, key string) model.Permission {
	if explicit != "" {
		return model.ParsePermission(explicit)
	}
	if key != "" {
		return model.PermissionWrite
	}
	return model.PermissionRead
}
