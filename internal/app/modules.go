package app

import (
	"io"

	"github.com/specialistvlad/burstflow/internal/registry"
	"github.com/specialistvlad/burstflow/modules/env_vars"
	"github.com/specialistvlad/burstflow/modules/http_request"
	"github.com/specialistvlad/burstflow/modules/print"
	"github.com/specialistvlad/burstflow/modules/s3"
	"github.com/specialistvlad/burstflow/modules/sleep"
	"github.com/specialistvlad/burstflow/modules/socketio"
)

// coreModules returns the modules compiled into the burstflow binary. The
// print module writes to outW.
func coreModules(outW io.Writer) []registry.Module {
	return []registry.Module{
		&env_vars.Module{},
		&print.Module{Out: outW},
		&http_request.Module{},
		&s3.Module{},
		&socketio.Module{},
		&sleep.Module{},
	}
}
