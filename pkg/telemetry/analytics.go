package telemetry

// Analytics scoring is heuristic. Each score is clamped to [0, 100] and is
// monotonic in its inputs (more user turns and faster responses raise
// engagement; more messages and better token efficiency raise quality), but
// none of the three is a calibrated quality measure.

// deriveAnalytics computes the per-run scores from the accumulated messages.
func deriveAnalytics(run *ConversationRun, messages []messageRecord, errorCount, retryCount int) *ConversationAnalytics {
	a := &ConversationAnalytics{
		RunID:      run.ID,
		ErrorCount: errorCount,
		RetryCount: retryCount,
	}

	if run.Status == RunCompleted {
		a.CompletionRate = 100
	} else {
		// Partial credit for runs that produced at least one assistant turn.
		for _, m := range messages {
			if m.Role == "assistant" {
				a.CompletionRate = 50
				break
			}
		}
	}

	a.EngagementScore = engagementScore(messages, run.AverageResponseTime)
	a.QualityScore = qualityScore(messages)
	return a
}

// engagementScore rewards more user turns and faster average responses.
func engagementScore(messages []messageRecord, avgResponseMs float64) float64 {
	userTurns := 0
	for _, m := range messages {
		if m.Role == "user" {
			userTurns++
		}
	}

	// Up to 60 points for conversation depth: 10 per user turn.
	score := clamp(float64(userTurns)*10, 0, 60)

	// Up to 40 points for responsiveness: full marks under 2s, zero at 30s+.
	switch {
	case avgResponseMs <= 0:
		// No timing data recorded; neutral credit.
		score += 20
	case avgResponseMs <= 2000:
		score += 40
	case avgResponseMs >= 30000:
		// nothing
	default:
		score += 40 * (30000 - avgResponseMs) / 28000
	}

	return clamp(score, 0, 100)
}

// qualityScore rewards longer conversations and token efficiency (content
// produced per token spent).
func qualityScore(messages []messageRecord) float64 {
	if len(messages) == 0 {
		return 0
	}

	// Up to 50 points for message volume: 5 per message.
	score := clamp(float64(len(messages))*5, 0, 50)

	totalTokens := 0
	totalChars := 0
	for _, m := range messages {
		totalTokens += m.TokenCount
		totalChars += len(m.Content)
	}
	if totalTokens > 0 {
		// Roughly 4 chars per token is typical; efficiency above that caps out.
		efficiency := float64(totalChars) / float64(totalTokens)
		score += clamp(efficiency/4*50, 0, 50)
	} else {
		score += 25
	}

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
