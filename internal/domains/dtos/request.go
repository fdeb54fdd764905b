package dtos

import (
	"encoding/json"

	"github.com/chess-vn/slduel/internal/domains/entities"
)

// Request is one client event. Data is decoded according to Type.
type Request struct {
	Type      string          `json:"type"`
	RequestId string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Response answers a Request. Exactly one of Data and Error is set.
type Response struct {
	Type      string      `json:"type"`
	RequestId string      `json:"requestId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
}

type FindDuelMatchRequest struct {
	QuizId      string `json:"quizId"`
	UserId      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type FindDuelMatchResponse struct {
	MatchId string `json:"matchId"`
	Role    string `json:"role"`
	Waiting bool   `json:"waiting"`
}

type DuelReadyRequest struct {
	MatchId string `json:"matchId"`
	UserId  string `json:"userId"`
}

type DuelReadyResponse struct {
	MatchId string `json:"matchId"`
	Status  string `json:"status"`
}

type DuelAnswerRequest struct {
	MatchId       string `json:"matchId"`
	UserId        string `json:"userId"`
	QuestionIndex *int   `json:"questionIndex"`
	Answer        string `json:"answer"`
	TimeSpentMs   int64  `json:"timeSpentMs"`
}

type DuelAnswerResponse struct {
	MatchId       string `json:"matchId"`
	QuestionIndex int    `json:"questionIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	CorrectAnswer string `json:"correctAnswer"`
	Explanation   string `json:"explanation,omitempty"`
	PointsEarned  int    `json:"pointsEarned"`
	Finished      bool   `json:"finished"`
}

type DuelResumeRequest struct {
	MatchId string `json:"matchId"`
	UserId  string `json:"userId"`
}

type DuelResumeResponse struct {
	MatchId        string `json:"matchId"`
	Role           string `json:"role"`
	Status         string `json:"status"`
	QuestionIndex  int    `json:"questionIndex"`
	TotalQuestions int    `json:"totalQuestions"`
}

func FindDuelMatchResponseFromAssignment(matchId string, role entities.Role, waiting bool) FindDuelMatchResponse {
	return FindDuelMatchResponse{
		MatchId: matchId,
		Role:    role.String(),
		Waiting: waiting,
	}
}
