package llm

import "context"

// stubCall records one Complete invocation.
type stubCall struct {
	system    string
	prompt    string
	maxTokens int
}

// stubClient is a canned-reply Client for unit tests.
type stubClient struct {
	replies []string
	err     error
	calls   []stubCall
}

func (s *stubClient) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	s.calls = append(s.calls, stubCall{system: system, prompt: prompt, maxTokens: maxTokens})
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *stubClient) Provider() string { return "stub" }
func (s *stubClient) Model() string    { return "stub-model" }
