// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kadirpekel/omni/pkg/event"
)

var (
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omni",
		Name:      "agent_steps_total",
		Help:      "Steps executed by agents.",
	}, []string{"agent"})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omni",
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool name and outcome.",
	}, []string{"agent", "tool", "outcome"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omni",
		Name:      "tokens_total",
		Help:      "Tokens consumed by direction.",
	}, []string{"agent", "direction"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omni",
		Name:      "runs_total",
		Help:      "Terminated runs by outcome.",
	}, []string{"agent", "outcome"})
)

// AttachMetrics subscribes Prometheus collectors to an agent's emitter.
func AttachMetrics(emitter *event.Emitter, agentName string) {
	emitter.On(event.StepStart, func(ev *event.Event) error {
		stepsTotal.WithLabelValues(agentName).Inc()
		return nil
	})
	emitter.On(event.ToolEnd, func(ev *event.Event) error {
		outcome := "success"
		if success, ok := ev.Data["success"].(bool); ok && !success {
			outcome = "failure"
		}
		toolName, _ := ev.Data["tool"].(string)
		toolCallsTotal.WithLabelValues(agentName, toolName, outcome).Inc()
		return nil
	})
	emitter.On(event.LLMResponse, func(ev *event.Event) error {
		if in, ok := ev.Data["input_tokens"].(int); ok {
			tokensTotal.WithLabelValues(agentName, "input").Add(float64(in))
		}
		if out, ok := ev.Data["output_tokens"].(int); ok {
			tokensTotal.WithLabelValues(agentName, "output").Add(float64(out))
		}
		return nil
	})
	emitter.On(event.Completion, func(ev *event.Event) error {
		runsTotal.WithLabelValues(agentName, "completed").Inc()
		return nil
	})
	emitter.On(event.Error, func(ev *event.Event) error {
		reason, _ := ev.Data["reason"].(string)
		if reason == "" {
			reason = "error"
		}
		runsTotal.WithLabelValues(agentName, reason).Inc()
		return nil
	})
}
