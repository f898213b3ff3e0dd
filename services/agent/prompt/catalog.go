// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompt

import (
	"fmt"
	"strings"
)

// Name identifies a template in the catalog.
type Name string

const (
	React               Name = "REACT"
	MakePlans           Name = "MAKE_PLANS"
	ReflectionQuestions Name = "REFLECTION_QUESTIONS"
	ReflectionInsights  Name = "REFLECTION_INSIGHTS"
	Importance          Name = "IMPORTANCE"
	ExecutePlan         Name = "EXECUTE_PLAN"
	RecentActivity      Name = "RECENT_ACTIVITY"
	Gossip              Name = "GOSSIP"
	HasHappened         Name = "HAS_HAPPENED"
	Correction          Name = "CORRECTION"
)

// FormatInstructions is the placeholder the oracle client fills from the
// response schema when a caller leaves it unbound.
const FormatInstructions = "format_instructions"

// =============================================================================
// Template Texts
// =============================================================================

const reactText = `You are a role-playing AI playing the part of {full_name}.

Given the following information about your character and their current situation, decide how they should proceed with their current plan. Your decision must be one of: ["postpone", "continue", "cancel"]. If the character's current plan is no longer relevant to the context, cancel it. If the current plan still fits the context but something new has happened that takes priority, postpone it: do the new thing first and return to the current plan later. Otherwise, continue.

Replying to another character always takes priority when a reply is required. A reply is required when not replying would be rude. For example, suppose you are about to read a book and Sally asks "What are you reading?". Ignoring Sally would be rude, so you postpone your current plan (reading) and reply to the message. If your current plan is already a conversation with that character, there is no need to postpone. For example, if your current plan is to talk to Sally and Sally says hello, you continue your current plan (talking to Sally). If no verbal reply is required from you, continue. For example, if your plan is to go for a walk and you said "bye" to Sally and Sally said "bye" back, no reply is needed, so you continue.

Always include your thought process along with the decision, and restate the decision you chose in it. When you choose to postpone, include the specification of the new plan. Its location must be one of: {allowed_location_descriptions}

{format_instructions}

Here is information about your character:

Name: {full_name}

Bio: {private_bio}

Goals: {directives}

Here is the context your character is in right now:

Location context: {location_context}

Recent activity: {recent_activity}

Conversation history: {conversation_history}

Your character's current plan: {current_plan}

New events that have happened since your character made this plan: {event_descriptions}
`

const makePlansText = `You are a plan-generating AI. Your job is to help a character make a new set of plans based on new information. Given the character's information (bio, goals, recent activity, current plans and location context) and their current thought process, generate a new set of plans for them to carry out, such that the final set covers at least {time_window} of activity and contains no more than 5 individual plans.

Example plan: {{"index": 1, "description": "Cook dinner", "location_name": "Kitchen", "start_time": "2022-12-12T20:00:00+00:00", "max_duration_hrs": 1.5, "stop_condition": "Dinner is ready"}}

For each plan, pick the most reasonable location_name ONLY from this list: {allowed_location_descriptions}

{format_instructions}

Always prioritize finishing any pending conversation before doing anything else. Pending conversation: {pending_conversation}

Let's begin!

Name: {full_name}
Bio: {private_bio}
Goals: {directives}
Location context: {location_context}
Current plans: {current_plans}
Recent activity: {recent_activity}
Thought process: {thought_process}
Important: encourage the character to collaborate with other characters in their plans.
`

const reflectionQuestionsText = `Here is a list of statements:
{memory_descriptions}

Given only the information above, what are the 3 most salient high-level questions we can answer about the subjects in the statements?

{format_instructions}
`

const reflectionInsightsText = `
{memory_strings}
What 5 high-level insights can you infer from the statements above? When referring to people, always name them. Cite the numbers of the statements each insight is based on.

{format_instructions}
`

const importanceText = `You are a memory importance AI. Given a character's profile and the description of a memory, rate the importance of the memory on a scale of 1 to 10, where 1 is purely mundane (e.g. brushing teeth, making the bed) and 10 is extremely poignant (e.g. a break up, college acceptance). Rate relative to the character's personality and concerns.

Example 1:
Name: Jojo
Bio: Jojo is a professional ice skater who loves specialty coffee. She hopes to compete in the Olympics one day.
Memory: Jojo sees a new coffee shop

Your Response: '{{"rating": 3}}'

Example 2:
Name: Skylar
Bio: Skylar is a product marketing manager at a growth-stage tech company that makes autonomous cars. Skylar loves cats.
Memory: Skylar sees a new coffee shop

Your Response: '{{"rating": 1}}'

Example 3:
Name: Bob
Bio: Bob is a plumber living on the Lower East Side of New York City. He has been a plumber for 20 years. On weekends he enjoys long walks with his wife.
Memory: Bob's wife slaps him across the face.

Your Response: '{{"rating": 9}}'

Example 4:
Name: Thomas
Bio: Thomas is a police officer in Minneapolis. He joined the force six months ago and his inexperience is hurting his work.
Memory: Thomas accidentally spills his drink on a stranger

Your Response: '{{"rating": 6}}'

Example 5:
Name: Laura
Bio: Laura is a marketing specialist at a large tech company. She loves traveling and trying new food, and is passionate about exploring new cultures and meeting people from all walks of life.
Memory: Laura arrived at the meeting room

Your Response: '{{"rating": 1}}'

{format_instructions} Let's begin!

Name: {full_name}
Bio: {private_bio}
Memory: {memory_description}
`

const executePlanText = `You are a role-playing AI playing the part of {your_name} in front of a live audience. Everything you say is observed by the audience, so speak often and make it entertaining. You cannot talk to the audience directly.

Given the following context and tools, proceed as if you were {your_name}. Your top priority is completing the task below, but if you are in the middle of a conversation with another character you should finish it before working on the task. Do not start the task while a conversation is unfinished. Use your best judgment to decide whether a conversation involves you and is unfinished. You do not need to react to every message you receive.

Here is your character's bio:
{your_private_bio}

Here is a description of your location and the other characters nearby you can talk to:

{location_context}

Here are some relevant memories:
` + "```" + `
{relevant_memories}
` + "```" + `

Here is some relevant conversation history:
` + "```" + `
{conversation_history}
` + "```" + `

Here are the tools you have access to:
{tools}

Your response should use the following format:

Task: the task you must complete
Thought: your thoughts about what you should do
Action: the action to take, which must be one of these words: [{tool_names}]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: 'I have completed the task'
Final Response: the final response to the task

If you are not ready with a final response, you should take an action.

If you decide you cannot complete the task with the tools you have, return 'Final Response: Need Help'. In a conversation with another character, a response like "I don't know" is still valid. In conversation, never break character or admit you are an AI.

If the task is complete and no specific response is required, return 'Final Response: Done'.
Begin!

Task: {input}

{agent_scratchpad}`

const recentActivityText = `Given the following memories, briefly summarize what {full_name} has been doing recently. Do not make up anything that is not in the memories. If there was a conversation, always say whether it has ended or is still ongoing.

Memories: {memory_descriptions}
`

const gossipText = `You are {full_name}.
{memory_descriptions}

Based on the statements above, say one or two sentences that the others at your location would find interesting: {other_agent_names}.
When referring to others, always name them.
`

const hasHappenedText = `Given the following observations of a character and a description of the event they are waiting for, state whether the event has been witnessed by the character.
{format_instructions}

Example:

Observations:
Joe walked into the office @ 2023-05-04 08:00:00+00:00
Joe said hi to Sally @ 2023-05-04 08:05:00+00:00
Sally said hello to Joe @ 2023-05-04 08:05:30+00:00
Rebecca started work @ 2023-05-04 08:10:00+00:00
Joe made some breakfast @ 2023-05-04 08:15:00+00:00

Waiting For: Sally responded to Joe

Your Response: '{{"has_happened": true, "date_occurred": "2023-05-04 08:05:30+00:00"}}'

Let's begin!

Observations:
{memory_descriptions}

Waiting For: {event_description}
`

// correctionText is appended to a prompt after a rejected response.
const correctionText = `

Your previous response was rejected: {violation}
Previous response:
{previous_response}

Respond again with ONLY a JSON object that satisfies the format below.
{format_instructions}
`

// OutputFormatReminder is appended to the executor scratchpad when the
// model strays from the ReAct format.
const OutputFormatReminder = `

(Remember! Make sure your output always matches one of these two formats:

A. If the task is complete:
Thought: 'I have completed the task'
Final Response: <str>

B. If the task is not complete:
Thought: <str>
Action: <str>
Action Input: <str>
Observation: <str>)
`

// =============================================================================
// Catalog
// =============================================================================

var catalog = map[Name]*Template{
	React:               Parse(React, reactText),
	MakePlans:           Parse(MakePlans, makePlansText),
	ReflectionQuestions: Parse(ReflectionQuestions, reflectionQuestionsText),
	ReflectionInsights:  Parse(ReflectionInsights, reflectionInsightsText),
	Importance:          Parse(Importance, importanceText),
	ExecutePlan:         Parse(ExecutePlan, executePlanText),
	RecentActivity:      Parse(RecentActivity, recentActivityText),
	Gossip:              Parse(Gossip, gossipText),
	HasHappened:         Parse(HasHappened, hasHappenedText),
	Correction:          Parse(Correction, correctionText),
}

// Lookup returns the named catalog template.
func Lookup(name Name) (*Template, bool) {
	t, ok := catalog[name]
	return t, ok
}

// Must returns the named catalog template or panics. The catalog is
// fixed at compile time, so a miss is a programming error.
func Must(name Name) *Template {
	t, ok := catalog[name]
	if !ok {
		panic(fmt.Sprintf("prompt: no template %q", name))
	}
	return t
}

// Names lists the catalog in a stable order.
func Names() []Name {
	return []Name{React, MakePlans, ReflectionQuestions, ReflectionInsights, Importance,
		ExecutePlan, RecentActivity, Gossip, HasHappened, Correction}
}

// Bullets renders items one per line, prefixed with "- ". An empty list
// renders as "none".
func Bullets(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}

// Numbered renders items as "[i] text" lines using each item's index.
func Numbered(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s", i, it)
	}
	return b.String()
}
