// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package backend provides the per-OS kernel notification backends behind
// the api.Backend contract: epoll on Linux (io_uring behind the io_uring
// build tag), kqueue on the BSDs and macOS, and IOCP on Windows. New
// selects the implementation for the compiling platform.
package backend
