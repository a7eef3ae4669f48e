package main

import (
	"fmt"
	"io"

	"github.com/stemsi/gate-backend/internal/model"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Tests []seedTest `yaml:"tests"`
}

type seedTest struct {
	Title           string         `yaml:"title"`
	Subject         string         `yaml:"subject"`
	DurationSeconds int            `yaml:"duration_seconds"`
	Publish         bool           `yaml:"publish"`
	Questions       []seedQuestion `yaml:"questions"`
}

type seedQuestion struct {
	Prompt   string         `yaml:"prompt"`
	Passage  string         `yaml:"passage"`
	ImageURL string         `yaml:"image_url"`
	Options  []model.Option `yaml:"options"`
	Correct  string         `yaml:"correct"`
}

// loadSeed decodes and sanity-checks a seed file.
func loadSeed(r io.Reader) (*seedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f seedFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	for i, t := range f.Tests {
		if t.Title == "" {
			return nil, fmt.Errorf("test %d: title is required", i+1)
		}
		switch model.Subject(t.Subject) {
		case model.SubjectAbstractReasoning, model.SubjectReadingComprehension, model.SubjectWriting:
		default:
			return nil, fmt.Errorf("test %q: unknown subject %q", t.Title, t.Subject)
		}
		if t.DurationSeconds <= 0 {
			return nil, fmt.Errorf("test %q: duration_seconds must be positive", t.Title)
		}
		if t.Publish && len(t.Questions) == 0 {
			return nil, fmt.Errorf("test %q: cannot publish without questions", t.Title)
		}
	}
	return &f, nil
}

func (t seedTest) createRequest() model.CreateTestRequest {
	return model.CreateTestRequest{
		Title:           t.Title,
		Subject:         t.Subject,
		DurationSeconds: t.DurationSeconds,
	}
}

func (t seedTest) questionsRequest() model.AddQuestionsRequest {
	req := model.AddQuestionsRequest{Questions: make([]model.AddQuestionRequest, len(t.Questions))}
	for i, q := range t.Questions {
		req.Questions[i] = model.AddQuestionRequest{
			Prompt:        q.Prompt,
			Passage:       q.Passage,
			ImageURL:      q.ImageURL,
			Options:       q.Options,
			CorrectOption: q.Correct,
		}
	}
	return req
}
