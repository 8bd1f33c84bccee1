package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
)

const evaluatorSystemPrompt = "You are an evaluator that determines if a task has been completed successfully by an Assistant.\n" +
	"Assess the Assistant's last response based on the given criteria. Respond with your feedback, " +
	"and with your decision on whether the success criteria has been met, and whether more input is needed from the user."

const evaluatorJSONInstruction = "\n\nIMPORTANT: Respond with ONLY a single valid JSON object matching the schema:\n" +
	`{"feedback": string, "success_criteria_met": boolean, "user_input_needed": boolean}` + "\n" +
	"Do not include any explanatory text, bullet points, or markdown. Output must be parseable JSON and only the JSON."

// FeedbackPrefix starts the evaluator message appended to the conversation.
const FeedbackPrefix = "Evaluator Feedback on this answer: "

func workerPrompt(s State, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that can use tools to complete tasks.\n")
	b.WriteString("You keep working on a task until either you have a question or clarification for the user, or the success criteria is met.\n")
	b.WriteString("You have many tools to help you, including tools to browse the internet, navigating and retrieving web pages.\n")
	b.WriteString("You have a tool to run python code, but note that you would need to include a print() statement if you wanted to receive output.\n")
	b.WriteString("You can manage the user's Google Calendar, send push notifications, and read and write files in your sandbox directory.\n")
	b.WriteString("For research-heavy work you can delegate to ask_researcher; for coding work you can delegate to ask_coder.\n")
	fmt.Fprintf(&b, "The current date and time is %s\n\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString("This is the success criteria:\n")
	b.WriteString(s.SuccessCriteria)
	b.WriteString("\n")

	if len(s.Subtasks) > 0 {
		b.WriteString("\nA planner broke the request into these subtasks:\n")
		for i, task := range s.Subtasks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, task)
		}
	}

	b.WriteString("You should reply either with a question for the user about this assignment, or with your final response.\n")
	b.WriteString("If you have a question for the user, you need to reply by clearly stating your question. An example might be:\n\n")
	b.WriteString("Question: please clarify whether you want a summary or a detailed answer\n\n")
	b.WriteString("If you've finished, reply with the final answer, and don't ask a question; simply reply with the answer.\n")

	if s.FeedbackOnWork != "" {
		b.WriteString("\nPreviously you thought you completed the assignment, but your reply was rejected because the success criteria was not met.\n")
		b.WriteString("Here is the feedback on why this was rejected:\n")
		b.WriteString(s.FeedbackOnWork)
		b.WriteString("\nWith this feedback, please continue the assignment, ensuring that you meet the success criteria or have a question for the user.")
	}
	return b.String()
}

// formatConversation renders user and assistant turns for the evaluator.
func formatConversation(msgs []domain.Message) string {
	var b strings.Builder
	b.WriteString("Conversation history:\n\n")
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case domain.RoleAssistant:
			text := m.Content
			if text == "" {
				text = "[Tools use]"
			}
			fmt.Fprintf(&b, "Assistant: %s\n", text)
		}
	}
	return b.String()
}

func evaluatorUserPrompt(s State) string {
	last, _ := s.last()

	var b strings.Builder
	b.WriteString("You are evaluating a conversation between the User and Assistant. You decide what action to take based on the last response from the Assistant.\n\n")
	b.WriteString("The entire conversation with the assistant, with the user's original request and all replies, is:\n")
	b.WriteString(formatConversation(s.Messages))
	b.WriteString("\n\nThe success criteria for this assignment is:\n")
	b.WriteString(s.SuccessCriteria)
	b.WriteString("\n\nAnd the final response from the Assistant that you are evaluating is:\n")
	b.WriteString(last.Content)
	b.WriteString("\n\nRespond with your feedback, and decide if the success criteria is met by this response. ")
	b.WriteString("Also, decide if more user input is required, either because the assistant has a question, needs clarification, or seems to be stuck and unable to answer without help.\n\n")
	b.WriteString("The Assistant has access to a tool to write files. If the Assistant says they have written a file, then you can assume they have done so.\n")
	b.WriteString("Overall you should give the Assistant the benefit of the doubt if they say they've done something. But you should reject if you feel that more work should go into this.\n")

	if s.FeedbackOnWork != "" {
		fmt.Fprintf(&b, "Also, note that in a prior attempt from the Assistant, you provided this feedback: %s\n", s.FeedbackOnWork)
		b.WriteString("If you're seeing the Assistant repeating the same mistakes, then consider responding that user input is required.")
	}
	return b.String()
}
