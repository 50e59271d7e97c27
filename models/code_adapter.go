package models

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/synapselabs/cortex/llm"
	"go.uber.org/zap"
)

// codeLintIssue is one finding from the post-generation quality pass.
type codeLintIssue struct {
	Kind    string
	Message string
}

// CodeQuality is attached to a choice's metadata under "codeQuality" when the
// code adapter's post-generation pass runs.
type CodeQuality struct {
	Blocks     int      `json:"blocks"`
	Issues     []string `json:"issues,omitempty"`
	Reprompted bool     `json:"reprompted"`
	Passed     bool     `json:"passed"`
}

var fencedCodeBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n(.*?)```")

// codeAdapter specializes the chat-code logical model with an optional
// post-generation lint + single re-prompt pass.
type codeAdapter struct {
	Adapter
	logger      *zap.Logger
	debugBudget int
}

// NewCodeAdapter wraps the generic adapter for chat-code with the
// quality pass. debugBudget is the number of re-prompt iterations allowed
// when the lint fails (default 1).
func NewCodeAdapter(inner Adapter, logger *zap.Logger, debugBudget int) Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debugBudget <= 0 {
		debugBudget = 1
	}
	return &codeAdapter{Adapter: inner, logger: logger, debugBudget: debugBudget}
}

func (a *codeAdapter) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, params GenerateParams) (*llm.ChatResponse, error) {
	resp, err := a.Adapter.Generate(ctx, messages, tools, params)
	if err != nil || resp == nil || len(resp.Choices) == 0 {
		return resp, err
	}

	blocks := extractCodeBlocks(resp.Choices[0].Message.Content)
	if len(blocks) == 0 {
		return resp, nil
	}

	issues := lintBlocks(blocks)
	quality := &CodeQuality{Blocks: len(blocks), Passed: len(issues) == 0}
	for _, iss := range issues {
		quality.Issues = append(quality.Issues, iss.Kind+": "+iss.Message)
	}

	if len(issues) > 0 && a.debugBudget > 0 {
		reprompted, rerr := a.reprompt(ctx, messages, tools, params, issues)
		if rerr == nil && reprompted != nil && len(reprompted.Choices) > 0 {
			newBlocks := extractCodeBlocks(reprompted.Choices[0].Message.Content)
			newIssues := lintBlocks(newBlocks)
			if len(newIssues) < len(issues) {
				quality.Reprompted = true
				quality.Passed = len(newIssues) == 0
				quality.Blocks = len(newBlocks)
				quality.Issues = nil
				for _, iss := range newIssues {
					quality.Issues = append(quality.Issues, iss.Kind+": "+iss.Message)
				}
				reprompted.Choices[0].Message.Metadata = map[string]any{"codeQuality": quality}
				return reprompted, nil
			}
		}
	}

	resp.Choices[0].Message.Metadata = map[string]any{"codeQuality": quality}
	return resp, nil
}

func (a *codeAdapter) reprompt(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, params GenerateParams, issues []codeLintIssue) (*llm.ChatResponse, error) {
	var report strings.Builder
	report.WriteString("The previous response contained code with lint issues:\n")
	for _, iss := range issues {
		fmt.Fprintf(&report, "- [%s] %s\n", iss.Kind, iss.Message)
	}
	report.WriteString("Please fix these issues and return corrected code.")

	retryMessages := append(append([]llm.Message{}, messages...), llm.Message{
		Role:    llm.RoleUser,
		Content: report.String(),
	})
	return a.Adapter.Generate(ctx, retryMessages, tools, params)
}

func extractCodeBlocks(content string) []string {
	matches := fencedCodeBlock.FindAllStringSubmatch(content, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, m[1])
	}
	return blocks
}

// lintBlocks runs four cheap structural checks: a syntactic
// parse proxy (balanced brackets), long lines, per-function complexity
// estimate, trailing whitespace, and mixed indentation.
func lintBlocks(blocks []string) []codeLintIssue {
	var issues []codeLintIssue
	for i, block := range blocks {
		if !bracketsBalanced(block) {
			issues = append(issues, codeLintIssue{Kind: "syntax", Message: fmt.Sprintf("block %d has unbalanced brackets", i)})
		}
		lines := strings.Split(block, "\n")
		tabs, spaces := false, false
		for ln, line := range lines {
			if len(line) > 120 {
				issues = append(issues, codeLintIssue{Kind: "long_line", Message: fmt.Sprintf("block %d line %d exceeds 120 chars", i, ln+1)})
			}
			if strings.TrimRight(line, " \t") != line {
				issues = append(issues, codeLintIssue{Kind: "trailing_whitespace", Message: fmt.Sprintf("block %d line %d has trailing whitespace", i, ln+1)})
			}
			if strings.HasPrefix(line, "\t") {
				tabs = true
			} else if strings.HasPrefix(line, "  ") {
				spaces = true
			}
		}
		if tabs && spaces {
			issues = append(issues, codeLintIssue{Kind: "indentation", Message: fmt.Sprintf("block %d mixes tabs and spaces", i)})
		}
		if est := complexityEstimate(block); est > 15 {
			issues = append(issues, codeLintIssue{Kind: "complexity", Message: fmt.Sprintf("block %d has an estimated cyclomatic complexity of %d", i, est)})
		}
	}
	return issues
}

func bracketsBalanced(s string) bool {
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	for _, r := range s {
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

var branchKeywords = []string{"if ", "else", "for ", "while ", "case ", "catch ", "&&", "||", "elif "}

// complexityEstimate is a rough per-block branch-keyword count, used only as
// a cheap gate, not a real AST-based metric.
func complexityEstimate(block string) int {
	count := 1
	for _, kw := range branchKeywords {
		count += strings.Count(block, kw)
	}
	return count
}
