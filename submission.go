// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package palcrypt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Submission is a decrypted form submission.
type Submission struct {
	Questions []QuestionSubmission `json:"questions"`
}

// QuestionSubmission is the answer to one form question. Data is kept as raw
// JSON, since its shape depends on the question type.
type QuestionSubmission struct {
	QuestionID uuid.UUID       `json:"question_id"`
	Data       json.RawMessage `json:"data"`
}

// SubmissionError is returned when a decrypted payload is not a well-formed
// submission document.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("invalid submission: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// DecodeSubmission parses plaintext as a submission document. Unknown
// fields, missing answers, and trailing data are rejected.
func DecodeSubmission(plaintext []byte) (*Submission, error) {
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.DisallowUnknownFields()
	var s Submission
	if err := dec.Decode(&s); err != nil {
		return nil, &SubmissionError{err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &SubmissionError{errors.New("trailing data after document")}
	}
	if s.Questions == nil {
		return nil, &SubmissionError{errors.New("missing questions")}
	}
	seen := make(map[uuid.UUID]bool, len(s.Questions))
	for i, q := range s.Questions {
		if q.QuestionID == uuid.Nil {
			return nil, &SubmissionError{fmt.Errorf("question #%d: missing question_id", i)}
		}
		if seen[q.QuestionID] {
			return nil, &SubmissionError{fmt.Errorf("question %v answered twice", q.QuestionID)}
		}
		seen[q.QuestionID] = true
		if len(q.Data) == 0 || string(q.Data) == "null" {
			return nil, &SubmissionError{fmt.Errorf("question %v: missing data", q.QuestionID)}
		}
	}
	return &s, nil
}

// DecryptSubmission opens a sealed submission and decodes it.
func DecryptSubmission(sealed []byte, resolver KeyResolver) (*Submission, error) {
	plaintext, err := Decrypt(sealed, resolver)
	if err != nil {
		return nil, err
	}
	return DecodeSubmission(plaintext)
}

// DecryptBytes opens a sealed binary payload, such as a file attachment.
func DecryptBytes(sealed []byte, resolver KeyResolver) ([]byte, error) {
	return Decrypt(sealed, resolver)
}

// Question returns the answer to the question with the given ID, if any.
func (s *Submission) Question(id uuid.UUID) (json.RawMessage, bool) {
	for _, q := range s.Questions {
		if q.QuestionID == id {
			return q.Data, true
		}
	}
	return nil, false
}
