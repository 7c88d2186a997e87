// Package autoload registers every built-in channel factory.
package autoload

import (
	_ "mcpchat/pkg/channels/telegram"
	_ "mcpchat/pkg/channels/web"
)
