package dtos

import (
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
)

// Notification is a server-pushed message. Data holds one of the response
// types below.
type Notification struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type PlayerPublicResponse struct {
	UserId      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type PlayerScoreResponse struct {
	UserId         string `json:"userId"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	TotalTimeMs    int64  `json:"totalTimeMs"`
	AnsweredCount  int    `json:"answeredCount"`
	IsActive       bool   `json:"isActive"`
}

type MatchFoundResponse struct {
	MatchId        string               `json:"matchId"`
	QuizId         string               `json:"quizId"`
	QuizTitle      string               `json:"quizTitle"`
	TotalQuestions int                  `json:"totalQuestions"`
	Role           string               `json:"role"`
	Player1        PlayerPublicResponse `json:"player1"`
	Player2        PlayerPublicResponse `json:"player2"`
}

type DuelStartedResponse struct {
	MatchId        string    `json:"matchId"`
	TotalQuestions int       `json:"totalQuestions"`
	StartedAt      time.Time `json:"startedAt"`
}

// QuestionResponse never carries the correct answer.
type QuestionResponse struct {
	MatchId        string   `json:"matchId"`
	QuestionIndex  int      `json:"questionIndex"`
	TotalQuestions int      `json:"totalQuestions"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
}

type ScoreUpdateResponse struct {
	MatchId string                `json:"matchId"`
	Scores  []PlayerScoreResponse `json:"scores"`
}

type PlayerCompletedResponse struct {
	MatchId string              `json:"matchId"`
	Player  PlayerScoreResponse `json:"player"`
}

type DuelEndedResponse struct {
	MatchId     string                `json:"matchId"`
	Winner      *string               `json:"winner"`
	EndReason   string                `json:"endReason"`
	ForfeitedBy string                `json:"forfeitedBy,omitempty"`
	Scores      []PlayerScoreResponse `json:"scores"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
}

type OpponentDisconnectedResponse struct {
	MatchId      string                `json:"matchId"`
	Winner       string                `json:"winner"`
	Disconnected string                `json:"disconnected"`
	Scores       []PlayerScoreResponse `json:"scores"`
}

// MatchResponse is the public view of a match. Answer values are omitted.
type MatchResponse struct {
	MatchId        string                `json:"matchId"`
	QuizId         string                `json:"quizId"`
	TotalQuestions int                   `json:"totalQuestions"`
	Status         string                `json:"status"`
	Player1        PlayerPublicResponse  `json:"player1"`
	Player2        *PlayerPublicResponse `json:"player2,omitempty"`
	Scores         []PlayerScoreResponse `json:"scores"`
	Winner         *string               `json:"winner,omitempty"`
	EndReason      string                `json:"endReason,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	StartedAt      *time.Time            `json:"startedAt,omitempty"`
	CompletedAt    *time.Time            `json:"completedAt,omitempty"`
}

func PlayerPublicResponseFromEntity(p entities.PlayerState) PlayerPublicResponse {
	return PlayerPublicResponse{
		UserId:      p.UserId,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
	}
}

func PlayerScoreResponseFromEntity(p entities.PlayerState) PlayerScoreResponse {
	return PlayerScoreResponse{
		UserId:         p.UserId,
		Score:          p.Score,
		CorrectAnswers: p.CorrectAnswers,
		TotalTimeMs:    p.TotalTimeMs,
		AnsweredCount:  p.Cursor(),
		IsActive:       p.IsActive,
	}
}

// ScoresFromEntity lists player1 first, then player2 when paired.
func ScoresFromEntity(m entities.Match) []PlayerScoreResponse {
	scores := []PlayerScoreResponse{PlayerScoreResponseFromEntity(m.Player1)}
	if p2, ok := m.Player2.Player(); ok {
		scores = append(scores, PlayerScoreResponseFromEntity(p2))
	}
	return scores
}

func MatchFoundResponseFromEntity(m entities.Match, role entities.Role) MatchFoundResponse {
	p2, _ := m.Player2.Player()
	return MatchFoundResponse{
		MatchId:        m.MatchId,
		QuizId:         m.QuizId,
		QuizTitle:      m.QuizTitle,
		TotalQuestions: m.TotalQuestions,
		Role:           role.String(),
		Player1:        PlayerPublicResponseFromEntity(m.Player1),
		Player2:        PlayerPublicResponseFromEntity(p2),
	}
}

// QuestionResponseFromEntity renders question index of the match's quiz
// snapshot. The index must be within the snapshot.
func QuestionResponseFromEntity(m entities.Match, index int) QuestionResponse {
	q := m.Questions[index]
	return QuestionResponse{
		MatchId:        m.MatchId,
		QuestionIndex:  index,
		TotalQuestions: m.TotalQuestions,
		Question:       q.Question,
		Options:        q.Options,
	}
}

func DuelEndedResponseFromEntity(m entities.Match) DuelEndedResponse {
	return DuelEndedResponse{
		MatchId:     m.MatchId,
		Winner:      m.Winner,
		EndReason:   string(m.EndReason),
		ForfeitedBy: m.ForfeitedBy,
		Scores:      ScoresFromEntity(m),
		CompletedAt: m.CompletedAt,
	}
}

func MatchResponseFromEntity(m entities.Match) MatchResponse {
	resp := MatchResponse{
		MatchId:        m.MatchId,
		QuizId:         m.QuizId,
		TotalQuestions: m.TotalQuestions,
		Status:         m.Status.String(),
		Player1:        PlayerPublicResponseFromEntity(m.Player1),
		Scores:         ScoresFromEntity(m),
		Winner:         m.Winner,
		EndReason:      string(m.EndReason),
		CreatedAt:      m.CreatedAt,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
	}
	if p2, ok := m.Player2.Player(); ok {
		p := PlayerPublicResponseFromEntity(p2)
		resp.Player2 = &p
	}
	return resp
}
