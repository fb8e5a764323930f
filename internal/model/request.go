package model

type OpenFormRequest struct {
	FormContentID int64  `json:"formContentId" binding:"required"`
	FormDataID    int64  `json:"formDataId" binding:"required"`
	FormKind      string `json:"formKind"`
}

type EditRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

type SubmitRequest struct {
	Comment string `json:"comment"`
}
