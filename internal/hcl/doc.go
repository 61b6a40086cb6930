// Package hcl provides the HCL implementation of config.Loader.
//
// A workflow file holds at most one `workflow {}` settings block and any
// number of `task "id" {}` blocks:
//
//	workflow {
//	  max_concurrency = 4
//	  failure_policy  = "halt"
//	  timeout         = "15m"
//	  retry {
//	    base_delay   = "1s"
//	    multiplier   = 2
//	    max_delay    = "30s"
//	    max_attempts = 3
//	  }
//	}
//
//	task "fetch" {
//	  runner     = "http_request"
//	  count      = 3
//	  depends_on = ["setup"]
//	  arguments {
//	    url = format("https://example.com/page/%d", count.index)
//	  }
//	}
//
// A task with `count` expands into instances named `fetch[0]`, `fetch[1]`
// and so on, with `count.index` in scope for its expressions. A dependency
// that names a counted task without an index waits for every instance.
package hcl
