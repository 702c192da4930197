package config

import "os"

// fromEnv collects the settings that can be overridden from the
// environment. Unset variables stay empty and do not override anything.
func fromEnv() Config {
	var c Config

	c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	c.Anthropic.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.BaseURL = os.Getenv("OPENAI_BASE_URL")
	c.OpenAI.Organization = os.Getenv("OPENAI_ORG_ID")
	c.OpenAI.Model = os.Getenv("OPENAI_MODEL")

	c.Azure.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
	c.Azure.BaseURL = os.Getenv("AZURE_OPENAI_ENDPOINT")
	c.Azure.APIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")

	c.Groq.APIKey = os.Getenv("GROQ_API_KEY")
	c.Mistral.APIKey = os.Getenv("MISTRAL_API_KEY")
	c.Cohere.APIKey = os.Getenv("CO_API_KEY")

	c.LiteLLM.APIKey = os.Getenv("LITELLM_API_KEY")
	c.LiteLLM.BaseURL = os.Getenv("LITELLM_BASE_URL")

	c.Vertex.Project = os.Getenv("VERTEX_PROJECT")
	c.Vertex.Location = os.Getenv("VERTEX_LOCATION")
	c.Vertex.AccessToken = os.Getenv("VERTEX_ACCESS_TOKEN")

	c.Ollama.Host = os.Getenv("OLLAMA_HOST")
	c.Ollama.Model = os.Getenv("OLLAMA_MODEL")

	c.Store.Path = os.Getenv("PROMPTCALL_DB")
	return c
}
