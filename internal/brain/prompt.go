package brain

import (
	"encoding/json"
	"fmt"

	"github.com/abelbrown/ecgmon/internal/model"
)

// SystemPrompt frames every analysis request.
const SystemPrompt = "You are a medical assistant analyzing ECG data."

const instructionTemplate = `You are a medical assistant AI analyzing raw ECG data. Review the following ECG segment and provide a concise summary of findings.
Data (%d samples, timestamps %d to %d): %s
Instructions:
Identify any irregular patterns such as arrhythmia, tachycardia, bradycardia, or skipped beats.
Comment on heart rate trends and waveform consistency.
Point out if the signal appears noisy or unreliable.
Keep the output under 80 words. Use clear, non-technical language suitable for general users.
Output format:
Summary of rhythm
Any abnormalities detected
Signal quality
Only include relevant observations. If the signal appears normal, say "ECG appears normal with no detectable abnormalities."`

// BuildPrompt renders batch into a request. Deterministic: the same batch
// always yields the same prompt, with every sample in arrival order.
func BuildPrompt(batch model.Batch) Request {
	data, err := json.Marshal(batch.Samples)
	if err != nil {
		// []model.Sample with int fields cannot fail to marshal
		panic(fmt.Sprintf("marshal samples: %v", err))
	}
	first, last := batch.Span()
	return Request{
		SystemPrompt: SystemPrompt,
		UserPrompt:   fmt.Sprintf(instructionTemplate, batch.Len(), first, last, data),
	}
}
