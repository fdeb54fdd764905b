package entities

import "strings"

type Question struct {
	Question      string   `dynamodbav:"Question" json:"question"`
	Options       []string `dynamodbav:"Options" json:"options"`
	CorrectAnswer string   `dynamodbav:"CorrectAnswer" json:"correct_answer"`
	Explanation   string   `dynamodbav:"Explanation" json:"explanation"`
}

type Quiz struct {
	Id        string     `dynamodbav:"QuizId" json:"id"`
	Title     string     `dynamodbav:"Title" json:"title"`
	Questions []Question `dynamodbav:"Questions" json:"questions"`
}

// IsCorrect compares an answer with the authoritative one, ignoring
// surrounding whitespace and letter case.
func (q Question) IsCorrect(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.CorrectAnswer))
}
