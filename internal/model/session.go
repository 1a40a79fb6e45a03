package model

import "github.com/stemsi/exstem-attempt/internal/engine"

// AuthenticateRequest is the payload for entering an exam access code.
type AuthenticateRequest struct {
	AccessCode string `json:"access_code" binding:"required,max=64"`
}

// AnswerRequest selects an option for one question.
type AnswerRequest struct {
	Index  *int   `json:"index" binding:"required,min=0"`
	Option string `json:"option" binding:"required,optionkey"`
}

// IndexRequest addresses one question by position.
type IndexRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// SubmitResponse carries the final result together with the delivery status
// of its report. A failed report does not undo the result.
type SubmitResponse struct {
	Result engine.ResultRecord `json:"result"`
	Report engine.ReportStatus `json:"report"`
}

// ReviewResponse is returned after toggling a review flag.
type ReviewResponse struct {
	Index   int  `json:"index"`
	Flagged bool `json:"flagged"`
}
