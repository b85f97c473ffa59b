// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompts

// Embedded templates used when the dense store yields nothing. The
// store-backed copies are authoritative; these only keep a run alive
// through an outage.

var fallbackReasoningTemplates = map[string]string{
	"CODE_ERROR": `You are analyzing a CODE_ERROR (source code bug).

**Error Information:**
{error_info}

**Context So Far:**
{context_summary}

**Your Task:**
Think step-by-step about what might be causing this error. Consider:
1. What does the error message tell us?
2. Which code patterns typically cause this?
3. Do we have enough information, or do we need more context?
4. What's the most logical next step?

**Available Actions:**
- knowledge_search: Search curated documentation for similar error patterns
- case_search: Check historical failure cases
- github_get_file: Fetch source code (only if confidence < 0.75)
- postgres_history: Check past occurrences
- DONE: Generate answer (if confident)

**Output Format (JSON):**
{
    "thought": "Your reasoning about the error...",
    "confidence": 0.0-1.0,
    "needs_more_info": true/false,
    "next_action": "tool_name or DONE",
    "reasoning": "Why you chose this action..."
}`,

	"INFRA_ERROR": `You are analyzing an INFRA_ERROR (infrastructure/resource issue).

**Error Information:**
{error_info}

**Context So Far:**
{context_summary}

**Your Task:**
Think about infrastructure and resource issues. Consider:
1. Is this a resource exhaustion issue (memory, disk, CPU)?
2. Is it a network/connectivity problem?
3. Are there environmental factors (permissions, config)?
4. What logs or metrics would help?

**Available Actions:**
- knowledge_search: Search curated documentation for infrastructure solutions
- case_search: Check similar historical incidents
- mongodb_logs: Query execution logs and metrics
- postgres_history: Check if this happened before
- DONE: Generate answer (if confident)

**Important:** INFRA_ERROR doesn't need code inspection - focus on logs and metrics!

**Output Format (JSON):**
{
    "thought": "Your reasoning about the infrastructure issue...",
    "confidence": 0.0-1.0,
    "needs_more_info": true/false,
    "next_action": "tool_name or DONE",
    "reasoning": "Why you chose this action..."
}`,

	"CONFIG_ERROR": `You are analyzing a CONFIG_ERROR (configuration problem).

**Error Information:**
{error_info}

**Context So Far:**
{context_summary}

**Your Task:**
Think about configuration issues. Consider:
1. What configuration is missing or incorrect?
2. Are there permission problems?
3. Are environment variables set correctly?
4. Is this a deployment/setup issue?

**Available Actions:**
- knowledge_search: Search curated documentation for configuration fixes
- case_search: Check similar historical config issues
- mongodb_logs: Check console logs for config details
- postgres_history: Check if this config issue happened before
- DONE: Generate answer (if confident)

**Important:** CONFIG_ERROR is about setup, not code bugs!

**Output Format (JSON):**
{
    "thought": "Your reasoning about the configuration...",
    "confidence": 0.0-1.0,
    "needs_more_info": true/false,
    "next_action": "tool_name or DONE",
    "reasoning": "Why you chose this action..."
}`,

	"DEPENDENCY_ERROR": `You are analyzing a DEPENDENCY_ERROR (module/package issue).

**Error Information:**
{error_info}

**Context So Far:**
{context_summary}

**Your Task:**
Think about dependency issues. Consider:
1. Is a package missing or not installed?
2. Is there a version conflict?
3. Are import paths correct?
4. Is this a build/compilation issue?

**Available Actions:**
- knowledge_search: Search curated documentation for dependency solutions
- case_search: Check similar historical dependency issues
- mongodb_logs: Check build/install logs
- postgres_history: Check past dependency problems
- DONE: Generate answer (if confident)

**Output Format (JSON):**
{
    "thought": "Your reasoning about dependencies...",
    "confidence": 0.0-1.0,
    "needs_more_info": true/false,
    "next_action": "tool_name or DONE",
    "reasoning": "Why you chose this action..."
}`,

	"TEST_ERROR": `You are analyzing a TEST_ERROR (test assertion failure).

**Error Information:**
{error_info}

**Context So Far:**
{context_summary}

**Your Task:**
Think about why the test is failing. Consider:
1. Is it a legitimate code bug (expected != actual)?
2. Is the test itself flaky or incorrect?
3. Is there missing test data or setup?
4. Has the expected behavior changed?

**Available Actions:**
- knowledge_search: Search curated documentation for test failure patterns
- case_search: Check similar historical test failures
- github_get_file: Fetch test code (if confidence < 0.75)
- postgres_history: Check test history
- DONE: Generate answer (if confident)

**Output Format (JSON):**
{
    "thought": "Your reasoning about the test failure...",
    "confidence": 0.0-1.0,
    "needs_more_info": true/false,
    "next_action": "tool_name or DONE",
    "reasoning": "Why you chose this action..."
}`,

	"UNKNOWN": `You are analyzing an error of UNKNOWN category.

**Error Information:**
{error_info}

**Context So Far:**
{context_summary}

**Your Task:**
Since the category is unknown, take a general approach:
1. What does the error message suggest?
2. Start with broad knowledge search
3. Look for similar historical cases
4. Gather more context before deciding

**Available Actions:**
- knowledge_search: Broad search for error patterns
- case_search: Check any similar historical cases
- mongodb_logs: Check execution logs
- postgres_history: Check if seen before
- DONE: Generate answer (if confident)

**Output Format (JSON):**
{
    "thought": "Your reasoning about this error...",
    "confidence": 0.0-1.0,
    "needs_more_info": true/false,
    "next_action": "tool_name or DONE",
    "reasoning": "Why you chose this action..."
}`,
}

var fallbackFewShotExamples = map[string][]ReasoningExample{
	"CODE_ERROR": {
		{
			ErrorSummary: "NullPointerException at line 45 in UserService.java",
			Thought:      "This is a classic null pointer issue. The error says 'user' is null when calling getUserDetails(). I need to understand the context - is this a common pattern we've seen before?",
			Action:       "knowledge_search",
			Reasoning:    "First, search the documentation for NullPointerException patterns to see if we have documented solutions.",
		},
		{
			ErrorSummary: "TypeError: Cannot read property 'id' of undefined",
			Thought:      "JavaScript undefined property access. The object is undefined when we try to access 'id'. Retrieval found similar patterns - they recommend null checking before access. Confidence is high.",
			Action:       "DONE",
			Reasoning:    "Knowledge search returned a clear solution with 0.88 confidence. We have enough to answer.",
		},
	},
	"INFRA_ERROR": {
		{
			ErrorSummary: "OutOfMemoryError: Java heap space",
			Thought:      "Memory exhaustion issue. Heap is full. This is infrastructure-related, not a code bug. I need to check if we have solutions for memory tuning.",
			Action:       "knowledge_search",
			Reasoning:    "Search for OutOfMemoryError solutions and JVM heap configuration recommendations.",
		},
	},
	"CONFIG_ERROR": {
		{
			ErrorSummary: "PermissionError: Permission denied /var/log/app.log",
			Thought:      "Permission issue with log file. Process user doesn't have write access. This is a configuration/deployment problem, not code.",
			Action:       "knowledge_search",
			Reasoning:    "Search for permission issue solutions and file access configuration.",
		},
	},
	"DEPENDENCY_ERROR": {
		{
			ErrorSummary: "ModuleNotFoundError: No module named 'pandas'",
			Thought:      "Missing Python package. Package not installed in environment. Need to check requirements and installation procedure.",
			Action:       "knowledge_search",
			Reasoning:    "Search for dependency installation solutions and package management guidance.",
		},
	},
	"TEST_ERROR": {
		{
			ErrorSummary: "AssertionError: Expected 200, got 404",
			Thought:      "Test expecting success (200) but getting not found (404). Could be legitimate bug or test data issue. Need context.",
			Action:       "knowledge_search",
			Reasoning:    "Search for API test failure patterns and 404 error handling.",
		},
	},
}

const fallbackObservationTemplate = `**Observation Analysis**

You just executed: {tool_name}

**Tool Results:**
{tool_results}

**Your Task:**
Analyze what you learned from this tool execution. Consider:
1. Did this give us useful information?
2. Did it increase or decrease our confidence?
3. What does this tell us about the root cause?
4. Should we continue gathering info or are we ready to answer?

**Current Confidence:** {current_confidence}

**Output Format (JSON):**
{
    "observation": "What you learned from the tool results...",
    "confidence_change": "+0.2 (if info was helpful) or -0.1 (if contradictory) or 0.0 (if unclear)",
    "key_findings": ["finding 1", "finding 2"],
    "ready_to_answer": true/false
}`

const fallbackAnswerTemplate = `**Generate Final Answer**

You have completed your reasoning loop. Now generate a comprehensive answer.

**Error Category:** {error_category}

**All Information Gathered:**
{all_context}

**Reasoning History:**
{reasoning_history}

**Your Task:**
Based on ALL the information gathered, provide:
1. **Root Cause:** Clear explanation of what caused the error
2. **Fix Recommendation:** Specific, actionable steps to fix it
3. **Confidence:** Your confidence level (0.0-1.0)

**Guidelines:**
- Be specific and actionable
- Reference the evidence from your research
- If unsure, be honest about confidence level
- For CODE_ERROR: Include file/line references if available
- For INFRA_ERROR: Include resource metrics and thresholds
- For CONFIG_ERROR: Include specific config changes needed

**Output Format (JSON):**
{
    "root_cause": "Clear explanation of the root cause...",
    "fix_recommendation": "Specific steps to fix the issue...",
    "confidence": 0.0-1.0,
    "evidence": ["evidence 1", "evidence 2"],
    "additional_notes": "Any caveats or additional context..."
}`

const fallbackClassificationTemplate = `You are classifying a test failure into an error category.

**Valid Categories:**
{categories}

**Failure:**
{error_info}

**Your Task:**
Pick the single best-fitting category from the list above. If none fits, answer UNKNOWN.

**Output Format (JSON):**
{
    "category": "ONE of the valid categories",
    "confidence": 0.0-1.0,
    "reasoning": "Why this category fits..."
}`
