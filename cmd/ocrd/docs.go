package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           DeepSeek-OCR API
// @version         1.0
// @description     HTTP API for OCR over a vision-language inference engine.
//
// @contact.name   ocrd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
