// Package autoload registers every built-in LLM provider factory.
package autoload

import (
	_ "mcpchat/pkg/llm/azure"
)
