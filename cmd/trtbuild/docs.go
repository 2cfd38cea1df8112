package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           trtbuild API
// @version         1.0
// @description     HTTP API for serving text generation from built TensorRT-LLM engines.
//
// @contact.name   trtbuild maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
