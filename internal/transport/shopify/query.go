package shopify

// ProductsQuery exports products with their images, accessibility metafields,
// variants and per-location inventory levels as one JSONL stream.
const ProductsQuery = `{
  products {
    edges {
      node {
        __typename
        id
        handle
        title
        description
        descriptionHtml
        vendor
        productType
        tags
        images(first: 10) {
          edges { node { url altText } }
        }
        a11y_summary: metafield(namespace: "accessibility", key: "summary") { value type }
        a11y_tactile: metafield(namespace: "accessibility", key: "tactile_features") { value type }
        a11y_details: metafield(namespace: "accessibility", key: "details") {
          type
          reference {
            ... on Metaobject {
              id
              type
              fields {
                key
                value
                reference {
                  ... on MediaImage { image { url altText } }
                }
              }
            }
          }
        }
        variants(first: 100) {
          edges {
            node {
              __typename
              id
              sku
              title
              price
              availableForSale
              selectedOptions { name value }
              image { url altText }
              a11y_fit: metafield(namespace: "accessibility", key: "fit_note") { value type }
              inventoryItem {
                id
                inventoryLevels(first: 50) {
                  edges {
                    node {
                      __typename
                      id
                      location { id name }
                      quantities(names: ["available"]) { name quantity }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

const runMutation = `mutation run($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation { id status createdAt }
    userErrors { field message }
  }
}`

const statusQuery = `query status($id: ID!) {
  node(id: $id) {
    ... on BulkOperation { id status errorCode url objectCount }
  }
}`
