package main

// General API documentation for swaggo. Run swag from the repo root to
// regenerate docs.
//
// @title           llamagate API
// @version         1.0
// @description     HTTP gateway multiplexing chat requests across locally loaded LLMs with tool calling.
//
// @BasePath  /
//
// @schemes http
